// Package jobqueue implements a durable, at-least-once job queue:
// named lanes per node type, a `default` lane, and per-lane job-status
// tracking. Duplicate suppression is the Engine's responsibility; this
// package only guarantees delivery.
package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultLane is used for any node type with no explicit lane mapping.
const DefaultLane = "default"

// Job is the payload scheduled onto a lane: (runId, nodeId, attemptNumber).
type Job struct {
	RunID         string    `json:"runId"`
	NodeID        string    `json:"nodeId"`
	AttemptNumber int       `json:"attemptNumber"`
	Lane          string    `json:"lane"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Delivery wraps a Job with a receipt the caller must Ack or Nack.
type Delivery struct {
	Job     Job
	Receipt string
}

// Info reports a lane's current depth and in-flight count.
type Info struct {
	Lane     string
	Depth    int
	InFlight int
}

// ErrClosed is returned by operations on a closed Queue.
var ErrClosed = errors.New("jobqueue: closed")

// Queue is the durable work queue abstraction. Dequeue blocks until a
// job is available, ctx is canceled, or the queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, lane string) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery) error
	Info(ctx context.Context, lane string) (Info, error)
	Close() error
}

// LaneFor maps a node type to its queue lane. Node types without an
// explicit entry use DefaultLane.
func LaneFor(nodeType string, lanes map[string]string) string {
	if lane, ok := lanes[nodeType]; ok {
		return lane
	}
	return DefaultLane
}

func newReceipt() string {
	return uuid.New().String()
}
