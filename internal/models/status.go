package models

import (
	"time"
)

// WorkerKind identifies a worker pool component
type WorkerKind string

const (
	WorkerKindCrawler WorkerKind = "crawler"
	WorkerKindCleaner WorkerKind = "cleaner"
	WorkerKindStorage WorkerKind = "storage"
	WorkerKindIndexer WorkerKind = "indexer"
	WorkerKindRefresh WorkerKind = "refresh"
)

// WorkerStatus is the per-worker entry in the system status report
type WorkerStatus struct {
	ID        string     `json:"id"`
	Kind      WorkerKind `json:"kind"`
	Queue     string     `json:"queue"`
	Alive     bool       `json:"alive"`
	StartedAt time.Time  `json:"started_at"`
	UptimeSec float64    `json:"uptime_sec"`
	Processed int64      `json:"processed"`
	Failed    int64      `json:"failed"`
	Skipped   int64      `json:"skipped"`
}

// RuntimeStats replaces the source's per-process RSS/CPU report: everything
// runs in one Go process, so process-wide runtime numbers are what there is
type RuntimeStats struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB uint64  `json:"heap_alloc_mb"`
	HeapSysMB   uint64  `json:"heap_sys_mb"`
	NumGC       uint32  `json:"num_gc"`
	NumCPU      int     `json:"num_cpu"`
	UptimeSec   float64 `json:"uptime_sec"`
}

// BrokerInfo summarizes the broker connection for the status report
type BrokerInfo struct {
	Connected bool   `json:"connected"`
	Addr      string `json:"addr"`
	Keys      int64  `json:"keys"`
}

// SystemStatus is the full report returned by the manager
type SystemStatus struct {
	Timestamp time.Time                     `json:"timestamp"`
	Workers   map[WorkerKind][]WorkerStatus `json:"workers"`
	Queues    map[string]QueueMetrics       `json:"queues"`
	Tasks     []TaskSnapshot                `json:"tasks"`
	Storage   map[string]int64              `json:"storage"`
	Broker    BrokerInfo                    `json:"broker"`
	Runtime   RuntimeStats                  `json:"runtime"`
}
