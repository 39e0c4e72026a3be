package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

type stubPolicies struct {
	interfaces.PolicyStorage
	crawlPolicies   []*models.CrawlPolicy
	refreshPolicies []*models.RefreshPolicy
	scheduleTasks   map[int64][]*models.ScheduleTask
	sites           map[string]*models.Site

	touched      []int64
	scheduleRuns []*models.ScheduleTask
	refreshed    []*models.RefreshPolicy
}

func (s *stubPolicies) GetEnabledCrawlPolicies(_ context.Context) ([]*models.CrawlPolicy, error) {
	return s.crawlPolicies, nil
}

func (s *stubPolicies) GetScheduleTasks(_ context.Context, policyID int64) ([]*models.ScheduleTask, error) {
	return s.scheduleTasks[policyID], nil
}

func (s *stubPolicies) GetEnabledRefreshPolicies(_ context.Context) ([]*models.RefreshPolicy, error) {
	return s.refreshPolicies, nil
}

func (s *stubPolicies) TouchPolicyExecuted(_ context.Context, policyID int64) error {
	s.touched = append(s.touched, policyID)
	return nil
}

func (s *stubPolicies) UpdateScheduleRun(_ context.Context, task *models.ScheduleTask) error {
	copied := *task
	s.scheduleRuns = append(s.scheduleRuns, &copied)
	return nil
}

func (s *stubPolicies) UpdateRefreshTimestamps(_ context.Context, policy *models.RefreshPolicy) error {
	copied := *policy
	s.refreshed = append(s.refreshed, &copied)
	return nil
}

func (s *stubPolicies) GetSite(_ context.Context, siteID string) (*models.Site, error) {
	return s.sites[siteID], nil
}

type stubStarter struct {
	started []models.TaskConfig
}

func (s *stubStarter) StartCrawl(_ context.Context, cfg models.TaskConfig) (string, error) {
	s.started = append(s.started, cfg)
	return "task_stub", nil
}

func newTestScheduler(t *testing.T, policies *stubPolicies) (*Service, *stubStarter, interfaces.Broker) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	brk := broker.NewWithClient(rdb, &common.BrokerConfig{
		OpTimeout:    time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, common.GetLogger())

	starter := &stubStarter{}
	svc := New(policies, brk, starter, &common.SchedulerConfig{
		Enabled:      true,
		PollInterval: time.Minute,
	}, common.GetLogger())
	return svc, starter, brk
}

func crawlPolicy(id int64, lastExecuted *time.Time, startURLs ...string) *models.CrawlPolicy {
	return &models.CrawlPolicy{
		ID:           id,
		SiteID:       "docs",
		StartURLs:    startURLs,
		MaxDepth:     2,
		MaxURLs:      50,
		CrawlerType:  models.CrawlerTypeHTTPX,
		Enabled:      true,
		LastExecuted: lastExecuted,
	}
}

func TestNeverExecutedPolicyFiresImmediately(t *testing.T) {
	policies := &stubPolicies{crawlPolicies: []*models.CrawlPolicy{
		crawlPolicy(1, nil, "https://example.edu/a", "https://example.edu/b"),
	}}
	svc, starter, _ := newTestScheduler(t, policies)

	svc.Tick(t.Context(), time.Now())

	// One crawl task per start url
	require.Len(t, starter.started, 2)
	assert.Equal(t, []string{"https://example.edu/a"}, starter.started[0].StartURLs)
	assert.Equal(t, []string{"https://example.edu/b"}, starter.started[1].StartURLs)
	assert.Equal(t, []int64{1}, policies.touched)
}

func TestExecutedPolicyWithoutDueTasksDoesNotFire(t *testing.T) {
	executed := time.Now().Add(-time.Hour)
	policies := &stubPolicies{
		crawlPolicies: []*models.CrawlPolicy{crawlPolicy(1, &executed, "https://example.edu/")},
		scheduleTasks: map[int64][]*models.ScheduleTask{1: {
			{ID: 10, PolicyID: 1, Type: models.ScheduleTypeInterval, IntervalSeconds: 86400, Enabled: true},
		}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	svc.Tick(t.Context(), time.Now())
	assert.Empty(t, starter.started)
	assert.Empty(t, policies.touched)
}

func TestOnceTaskFiresOnceOnly(t *testing.T) {
	executed := time.Now().Add(-48 * time.Hour)
	oneTime := time.Now().Add(-time.Hour)
	policies := &stubPolicies{
		crawlPolicies: []*models.CrawlPolicy{crawlPolicy(1, &executed, "https://example.edu/")},
		scheduleTasks: map[int64][]*models.ScheduleTask{1: {
			{ID: 10, PolicyID: 1, Type: models.ScheduleTypeOnce, OneTimeDate: &oneTime, Enabled: true},
		}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	now := time.Now()
	svc.Tick(t.Context(), now)

	require.Len(t, starter.started, 1)
	require.Len(t, policies.scheduleRuns, 1)
	run := policies.scheduleRuns[0]
	require.NotNil(t, run.LastRun)
	assert.Equal(t, 1, run.RunCount)
	assert.Nil(t, run.NextRun)

	// A second tick must not fire: last_run is now set
	policies.scheduleTasks[1][0] = run
	svc.Tick(t.Context(), now.Add(time.Minute))
	assert.Len(t, starter.started, 1)
}

func TestIntervalTaskFiresWhenElapsed(t *testing.T) {
	executed := time.Now().Add(-48 * time.Hour)
	lastRun := time.Now().Add(-2 * time.Hour)
	policies := &stubPolicies{
		crawlPolicies: []*models.CrawlPolicy{crawlPolicy(1, &executed, "https://example.edu/")},
		scheduleTasks: map[int64][]*models.ScheduleTask{1: {
			{ID: 10, PolicyID: 1, Type: models.ScheduleTypeInterval, IntervalSeconds: 3600, LastRun: &lastRun, Enabled: true},
		}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	now := time.Now()
	svc.Tick(t.Context(), now)

	require.Len(t, starter.started, 1)
	require.Len(t, policies.scheduleRuns, 1)
	run := policies.scheduleRuns[0]
	require.NotNil(t, run.NextRun)
	assert.WithinDuration(t, now.Add(time.Hour), *run.NextRun, time.Second)
}

func TestCronTaskInitializesThenFires(t *testing.T) {
	executed := time.Now().Add(-48 * time.Hour)
	task := &models.ScheduleTask{
		ID: 10, PolicyID: 1, Type: models.ScheduleTypeCron,
		CronExpression: "0 3 * * *", Enabled: true,
	}
	policies := &stubPolicies{
		crawlPolicies: []*models.CrawlPolicy{crawlPolicy(1, &executed, "https://example.edu/")},
		scheduleTasks: map[int64][]*models.ScheduleTask{1: {task}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	// First sighting stamps next_run without firing
	svc.Tick(t.Context(), time.Now())
	assert.Empty(t, starter.started)
	require.NotNil(t, task.NextRun)

	// Once next_run passes, the task fires
	past := time.Now().Add(-time.Minute)
	task.NextRun = &past
	now := time.Now()
	svc.Tick(t.Context(), now)

	require.Len(t, starter.started, 1)
	fired := policies.scheduleRuns[len(policies.scheduleRuns)-1]
	require.NotNil(t, fired.NextRun)
	assert.True(t, fired.NextRun.After(now))
	assert.Equal(t, 3, fired.NextRun.Hour())
}

func TestDisabledAndOutOfWindowTasksIgnored(t *testing.T) {
	executed := time.Now().Add(-48 * time.Hour)
	windowEnd := time.Now().Add(-time.Hour)
	policies := &stubPolicies{
		crawlPolicies: []*models.CrawlPolicy{crawlPolicy(1, &executed, "https://example.edu/")},
		scheduleTasks: map[int64][]*models.ScheduleTask{1: {
			{ID: 10, PolicyID: 1, Type: models.ScheduleTypeInterval, IntervalSeconds: 1, Enabled: false},
			{ID: 11, PolicyID: 1, Type: models.ScheduleTypeInterval, IntervalSeconds: 1, Enabled: true, EndDate: &windowEnd},
		}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	svc.Tick(t.Context(), time.Now())
	assert.Empty(t, starter.started)
}

func TestRefreshPolicyDispatch(t *testing.T) {
	policies := &stubPolicies{
		refreshPolicies: []*models.RefreshPolicy{{
			ID:                  5,
			SiteID:              "docs",
			Strategy:            models.RefreshStrategy("incremental"),
			RefreshIntervalDays: 7,
			MaxAgeDays:          14,
			Enabled:             true,
		}},
		sites: map[string]*models.Site{"docs": {ID: "docs", BaseURL: "https://example.edu/"}},
	}
	svc, starter, brk := newTestScheduler(t, policies)

	now := time.Now()
	svc.Tick(t.Context(), now)

	// A host crawl task was started for the site
	require.Len(t, starter.started, 1)
	assert.Equal(t, []string{"https://example.edu/"}, starter.started[0].StartURLs)

	// The refresh task landed on queue:refresh
	envelopes, err := brk.ClaimBatch(t.Context(), broker.QueueRefresh, 1)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	var payload models.RefreshPayload
	require.NoError(t, envelopes[0].Decode(&payload))
	assert.Equal(t, "docs", payload.SiteID)
	assert.Equal(t, "task_stub", payload.CrawlTaskID)
	assert.Equal(t, int64(5), payload.PolicyID)
	assert.Equal(t, 7, payload.RefreshIntervalDays)

	// Timestamps stamped so the next tick does not re-fire
	require.Len(t, policies.refreshed, 1)
	stamped := policies.refreshed[0]
	require.NotNil(t, stamped.NextRefresh)
	assert.WithinDuration(t, now.AddDate(0, 0, 7), *stamped.NextRefresh, time.Second)
}

func TestRefreshPolicyNotDueIsSkipped(t *testing.T) {
	last := time.Now().Add(-time.Hour)
	next := time.Now().Add(24 * time.Hour)
	policies := &stubPolicies{
		refreshPolicies: []*models.RefreshPolicy{{
			ID: 5, SiteID: "docs", Enabled: true,
			LastRefresh: &last, NextRefresh: &next,
		}},
		sites: map[string]*models.Site{"docs": {ID: "docs", BaseURL: "https://example.edu/"}},
	}
	svc, starter, _ := newTestScheduler(t, policies)

	svc.Tick(t.Context(), time.Now())
	assert.Empty(t, starter.started)
	assert.Empty(t, policies.refreshed)
}
