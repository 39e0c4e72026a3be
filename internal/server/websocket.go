// -----------------------------------------------------------------------
// Status Feed - websocket broadcast of the system status report
// -----------------------------------------------------------------------

package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/manager"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Admin surface is expected to sit behind its own auth
	},
}

// statusBroadcastInterval is how often connected clients get a fresh
// system status push
const statusBroadcastInterval = 5 * time.Second

// statusFeed pushes the manager's status report to websocket clients
type statusFeed struct {
	mgr    *manager.Manager
	logger arbor.ILogger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newStatusFeed(mgr *manager.Manager, logger arbor.ILogger) *statusFeed {
	return &statusFeed{
		mgr:     mgr,
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// start launches the periodic broadcast loop
func (f *statusFeed) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(statusBroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				f.broadcast(loopCtx)
			}
		}
	}()
}

// stop ends the broadcast loop and closes every client connection
func (f *statusFeed) stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	for conn := range f.clients {
		conn.Close()
	}
	f.clients = make(map[*websocket.Conn]*sync.Mutex)
	f.mu.Unlock()
	f.wg.Wait()
}

// handle upgrades one client and sends an immediate status snapshot
func (f *statusFeed) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	writeMu := &sync.Mutex{}
	f.mu.Lock()
	f.clients[conn] = writeMu
	count := len(f.clients)
	f.mu.Unlock()

	f.logger.Debug().Int("clients", count).Msg("Status feed client connected")

	f.send(r.Context(), conn, writeMu)

	// Reader loop exists only to notice the client going away
	go func() {
		defer f.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *statusFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
	conn.Close()
}

func (f *statusFeed) broadcast(ctx context.Context) {
	f.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(f.clients))
	for conn, writeMu := range f.clients {
		conns[conn] = writeMu
	}
	f.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	for conn, writeMu := range conns {
		f.send(ctx, conn, writeMu)
	}
}

func (f *statusFeed) send(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	status := f.mgr.GetSystemStatus(ctx)

	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(status); err != nil {
		f.logger.Debug().Err(err).Msg("Status feed write failed, dropping client")
		go f.drop(conn)
	}
}
