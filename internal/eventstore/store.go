// Package eventstore implements an append-only durable event store:
// events keyed by (tenant, workflow, sequence), queryable by
// type/tenant/workflow/time-range, and replayable in ascending
// timestamp order.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a queried event does not exist.
var ErrNotFound = errors.New("eventstore: event not found")

// Event is a single durable record appended to the store. Payload is
// the domain event's JSON-encoded body; the store never mutates it.
type Event struct {
	ID             string          `db:"id" json:"id"`
	EventType      string          `db:"event_type" json:"eventType"`
	TenantID       string          `db:"tenant_id" json:"tenantId"`
	WorkflowID     sql.NullString  `db:"workflow_id" json:"-"`
	JobID          sql.NullString  `db:"job_id" json:"-"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	SequenceNumber int64           `db:"sequence_number" json:"sequenceNumber"`
	Timestamp      time.Time       `db:"timestamp" json:"timestamp"`
	Status         string          `db:"status" json:"status"`
}

// Store is the append-only durable log backed by Postgres via sqlx.
// Sequence numbers are monotone per (tenantId, store) and assigned
// in-process; they are gap-free within a single process, possibly
// gappy across processes, and are not used for correctness by the core.
type Store struct {
	db *sqlx.DB

	mu       sync.Mutex
	sequence map[string]int64 // tenantID -> next sequence number
}

// New constructs a Store against db.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, sequence: make(map[string]int64)}
}

func (s *Store) nextSequence(tenantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence[tenantID]++
	return s.sequence[tenantID]
}

// Append writes a new event to the store, atomically from the caller's
// perspective: the returned error is nil only once the row is durably
// committed. workflowID and jobID may be empty.
func (s *Store) Append(ctx context.Context, eventType, tenantID, workflowID, jobID string, payload interface{}, status string) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: marshal payload: %w", err)
	}

	event := Event{
		ID:             uuid.New().String(),
		EventType:      eventType,
		TenantID:       tenantID,
		Payload:        body,
		SequenceNumber: s.nextSequence(tenantID),
		Timestamp:      time.Now().UTC(),
		Status:         status,
	}
	if workflowID != "" {
		event.WorkflowID = sql.NullString{String: workflowID, Valid: true}
	}
	if jobID != "" {
		event.JobID = sql.NullString{String: jobID, Valid: true}
	}

	const query = `
		INSERT INTO event_store (
			id, event_type, tenant_id, workflow_id, job_id, payload,
			sequence_number, timestamp, status
		) VALUES (
			:id, :event_type, :tenant_id, :workflow_id, :job_id, :payload,
			:sequence_number, :timestamp, :status
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		return Event{}, fmt.Errorf("eventstore: append: %w", err)
	}
	return event, nil
}

// ByType returns up to limit events of the given type, newest first.
func (s *Store) ByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	var events []Event
	const query = `
		SELECT id, event_type, tenant_id, workflow_id, job_id, payload,
		       sequence_number, timestamp, status
		FROM event_store
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	if err := s.db.SelectContext(ctx, &events, query, eventType, limit); err != nil {
		return nil, fmt.Errorf("eventstore: by type: %w", err)
	}
	return events, nil
}

// ByTenant returns events for tenantID, newest first.
func (s *Store) ByTenant(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	var events []Event
	const query = `
		SELECT id, event_type, tenant_id, workflow_id, job_id, payload,
		       sequence_number, timestamp, status
		FROM event_store
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	if err := s.db.SelectContext(ctx, &events, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("eventstore: by tenant: %w", err)
	}
	return events, nil
}

// ByWorkflow returns events for workflowID, newest first.
func (s *Store) ByWorkflow(ctx context.Context, workflowID string, limit int) ([]Event, error) {
	var events []Event
	const query = `
		SELECT id, event_type, tenant_id, workflow_id, job_id, payload,
		       sequence_number, timestamp, status
		FROM event_store
		WHERE workflow_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	if err := s.db.SelectContext(ctx, &events, query, workflowID, limit); err != nil {
		return nil, fmt.Errorf("eventstore: by workflow: %w", err)
	}
	return events, nil
}

// Range returns events with timestamp in [start, end], ascending.
func (s *Store) Range(ctx context.Context, start, end time.Time) ([]Event, error) {
	var events []Event
	const query = `
		SELECT id, event_type, tenant_id, workflow_id, job_id, payload,
		       sequence_number, timestamp, status
		FROM event_store
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`
	if err := s.db.SelectContext(ctx, &events, query, start, end); err != nil {
		return nil, fmt.Errorf("eventstore: range: %w", err)
	}
	return events, nil
}

// Handler processes a single replayed event.
type Handler func(ctx context.Context, event Event) error

// Replay streams events with timestamp in [start, end] in ascending
// order to handler, batchSize at a time, and returns the count
// processed. It is restartable: re-issuing with start = last handled
// timestamp + 1ms continues where a prior call left off.
func (s *Store) Replay(ctx context.Context, start, end time.Time, handler Handler, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	count := 0
	cursor := start
	for {
		var batch []Event
		const query = `
			SELECT id, event_type, tenant_id, workflow_id, job_id, payload,
			       sequence_number, timestamp, status
			FROM event_store
			WHERE timestamp >= $1 AND timestamp <= $2
			ORDER BY timestamp ASC
			LIMIT $3
		`
		if err := s.db.SelectContext(ctx, &batch, query, cursor, end, batchSize); err != nil {
			return count, fmt.Errorf("eventstore: replay: %w", err)
		}
		if len(batch) == 0 {
			return count, nil
		}
		for _, event := range batch {
			if err := handler(ctx, event); err != nil {
				return count, fmt.Errorf("eventstore: replay handler: %w", err)
			}
			count++
		}
		last := batch[len(batch)-1]
		if len(batch) < batchSize {
			return count, nil
		}
		cursor = last.Timestamp.Add(time.Millisecond)
	}
}
