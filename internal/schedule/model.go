// Package schedule implements the ScheduledEvent model: a cron- or
// window-bound trigger that periodically kicks off a workflow run at a
// given entry node. Real nextRun computation is delegated to cron.go's
// CronParser, wrapping robfig/cron/v3.
package schedule

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle of a ScheduledEvent, independent of any run
// it has triggered.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// CronSchedule is the recurrence rule for a ScheduledEvent. StartTime
// and EndTime bound the window in which the cron expression fires;
// outside that window the event is dormant even if Status is active.
type CronSchedule struct {
	Cron      string     `json:"cron"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Timezone  string     `json:"timezone,omitempty"`
}

// ScheduledEvent is a tenant-owned trigger bound to a workflow and
// (optionally) a specific entry node within it.
type ScheduledEvent struct {
	ID         string                 `db:"id" json:"id"`
	TenantID   string                 `db:"tenant_id" json:"tenantId"`
	WorkflowID string                 `db:"workflow_id" json:"workflowId"`
	NodeID     string                 `db:"node_id" json:"nodeId,omitempty"`
	Data       map[string]interface{} `db:"-" json:"data,omitempty"`
	Schedule   *CronSchedule          `db:"-" json:"schedule,omitempty"`
	Status     Status                 `db:"status" json:"status"`
	LastRun    *time.Time             `db:"last_run" json:"lastRun,omitempty"`
	NextRun    *time.Time             `db:"next_run" json:"nextRun,omitempty"`
	Metadata   map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt  time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time              `db:"updated_at" json:"updatedAt"`
}

// IsDue reports whether the event should fire at t: active, inside its
// schedule window (if any), and next run has arrived.
func (e ScheduledEvent) IsDue(t time.Time) bool {
	if e.Status != StatusActive {
		return false
	}
	if e.NextRun == nil || t.Before(*e.NextRun) {
		return false
	}
	if e.Schedule != nil {
		if e.Schedule.StartTime != nil && t.Before(*e.Schedule.StartTime) {
			return false
		}
		if e.Schedule.EndTime != nil && t.After(*e.Schedule.EndTime) {
			return false
		}
	}
	return true
}

// row is the sqlx-mapped database row; data/schedule/metadata are
// stored as nullable JSON text columns per the persisted state layout.
type row struct {
	ID         string     `db:"id"`
	TenantID   string     `db:"tenant_id"`
	WorkflowID string     `db:"workflow_id"`
	NodeID     string     `db:"node_id"`
	Data       []byte     `db:"data"`
	Schedule   []byte     `db:"schedule"`
	Status     string     `db:"status"`
	LastRun    *time.Time `db:"last_run"`
	NextRun    *time.Time `db:"next_run"`
	Metadata   []byte     `db:"metadata"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (e ScheduledEvent) toRow() (row, error) {
	dataJSON, err := marshalOrEmpty(e.Data)
	if err != nil {
		return row{}, err
	}
	scheduleJSON, err := json.Marshal(e.Schedule)
	if err != nil {
		return row{}, err
	}
	metadataJSON, err := marshalOrEmpty(e.Metadata)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:         e.ID,
		TenantID:   e.TenantID,
		WorkflowID: e.WorkflowID,
		NodeID:     e.NodeID,
		Data:       dataJSON,
		Schedule:   scheduleJSON,
		Status:     string(e.Status),
		LastRun:    e.LastRun,
		NextRun:    e.NextRun,
		Metadata:   metadataJSON,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}

func (r row) toScheduledEvent() (ScheduledEvent, error) {
	var data map[string]interface{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return ScheduledEvent{}, err
		}
	}
	var sched *CronSchedule
	if len(r.Schedule) > 0 && string(r.Schedule) != "null" {
		sched = &CronSchedule{}
		if err := json.Unmarshal(r.Schedule, sched); err != nil {
			return ScheduledEvent{}, err
		}
	}
	var metadata map[string]interface{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return ScheduledEvent{}, err
		}
	}
	return ScheduledEvent{
		ID:         r.ID,
		TenantID:   r.TenantID,
		WorkflowID: r.WorkflowID,
		NodeID:     r.NodeID,
		Data:       data,
		Schedule:   sched,
		Status:     Status(r.Status),
		LastRun:    r.LastRun,
		NextRun:    r.NextRun,
		Metadata:   metadata,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

func marshalOrEmpty(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(v)
}

// ErrNotFound is returned when an event id/tenant pair has no row.
var ErrNotFound = errors.New("scheduled event not found")
