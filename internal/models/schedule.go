package models

import (
	"time"
)

// ScheduleType is the temporal variant of a ScheduleTask
type ScheduleType string

const (
	ScheduleTypeOnce     ScheduleType = "once"
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeCron     ScheduleType = "cron"
)

// ScheduleTask binds a firing rule to a CrawlPolicy. Exactly one of the
// variant fields is meaningful depending on Type.
type ScheduleTask struct {
	ID              int64        `json:"id"`
	PolicyID        int64        `json:"policy_id"`
	Type            ScheduleType `json:"type"`
	OneTimeDate     *time.Time   `json:"one_time_date"`    // Type == once
	IntervalSeconds int64        `json:"interval_seconds"` // Type == interval
	CronExpression  string       `json:"cron_expression"`  // Type == cron
	StartDate       *time.Time   `json:"start_date"`
	EndDate         *time.Time   `json:"end_date"`
	LastRun         *time.Time   `json:"last_run"`
	NextRun         *time.Time   `json:"next_run"`
	RunCount        int          `json:"run_count"`
	MaxRuns         int          `json:"max_runs"` // 0 means unlimited
	Enabled         bool         `json:"enabled"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// WithinWindow reports whether now falls inside the task's start/end window
func (t *ScheduleTask) WithinWindow(now time.Time) bool {
	if t.StartDate != nil && now.Before(*t.StartDate) {
		return false
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return false
	}
	if t.MaxRuns > 0 && t.RunCount >= t.MaxRuns {
		return false
	}
	return true
}
