package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSchedule is returned when a ScheduledEvent's cron
// expression cannot be parsed or yields no future occurrence.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Service is the CRUD and lifecycle surface over ScheduledEvent,
// responsible for computing NextRun from the cron expression on every
// create/update so the scheduler's Due query never has to parse cron.
type Service struct {
	repo   *Repository
	parser *CronParser
}

// NewService constructs a schedule service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo, parser: NewCronParser()}
}

// Create validates the event's schedule (if any) and persists it with
// an initial NextRun.
func (s *Service) Create(ctx context.Context, e ScheduledEvent) (ScheduledEvent, error) {
	if e.Status == "" {
		e.Status = StatusActive
	}
	next, err := s.computeNextRun(e)
	if err != nil {
		return ScheduledEvent{}, err
	}
	e.NextRun = next
	return s.repo.Create(ctx, e)
}

// Get fetches a ScheduledEvent by id.
func (s *Service) Get(ctx context.Context, tenantID, id string) (ScheduledEvent, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// ListByWorkflow returns every ScheduledEvent bound to workflowID.
func (s *Service) ListByWorkflow(ctx context.Context, tenantID, workflowID string) ([]ScheduledEvent, error) {
	return s.repo.ListByWorkflow(ctx, tenantID, workflowID)
}

// Pause stops an event from firing without deleting it.
func (s *Service) Pause(ctx context.Context, tenantID, id string) (ScheduledEvent, error) {
	e, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return ScheduledEvent{}, err
	}
	e.Status = StatusPaused
	return s.repo.Update(ctx, e)
}

// Resume reactivates a paused event and recomputes its NextRun from
// the current time, so a long pause does not cause a burst of
// catch-up firings.
func (s *Service) Resume(ctx context.Context, tenantID, id string) (ScheduledEvent, error) {
	e, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return ScheduledEvent{}, err
	}
	e.Status = StatusActive
	next, err := s.computeNextRun(e)
	if err != nil {
		return ScheduledEvent{}, err
	}
	e.NextRun = next
	return s.repo.Update(ctx, e)
}

// Delete removes a ScheduledEvent permanently.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.repo.Delete(ctx, tenantID, id)
}

// computeNextRun derives NextRun from e.Schedule.Cron relative to now.
// A nil Schedule means a one-shot event already carrying an explicit
// NextRun (set by the caller); it is returned unchanged.
func (s *Service) computeNextRun(e ScheduledEvent) (*time.Time, error) {
	if e.Schedule == nil || e.Schedule.Cron == "" {
		return e.NextRun, nil
	}
	timezone := e.Schedule.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	runs, err := s.parser.CalculateNextRuns(e.Schedule.Cron, timezone, 1)
	if err != nil {
		return nil, ErrInvalidSchedule
	}
	if len(runs) == 0 {
		return nil, ErrInvalidSchedule
	}
	next := runs[0]
	if e.Schedule.EndTime != nil && next.After(*e.Schedule.EndTime) {
		return nil, nil
	}
	return &next, nil
}
