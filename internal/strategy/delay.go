package strategy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorax/gorax/internal/workflow"
)

// DelayConfig is the node.config shape the delay strategy requires.
type DelayConfig struct {
	DurationMs int64 `json:"durationMs"`
}

// DelayStrategy succeeds after a configured duration and is cancelable:
// a workflow cancel or node timeout interrupts the sleep immediately via
// ctx.
type DelayStrategy struct{}

// NewDelayStrategy constructs the delay strategy.
func NewDelayStrategy() *DelayStrategy {
	return &DelayStrategy{}
}

func (s *DelayStrategy) decodeConfig(node workflow.Node) (DelayConfig, error) {
	raw, err := json.Marshal(node.Config)
	if err != nil {
		return DelayConfig{}, err
	}
	var cfg DelayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DelayConfig{}, err
	}
	return cfg, nil
}

// Validate requires a positive durationMs.
func (s *DelayStrategy) Validate(node workflow.Node) ValidationReport {
	report := ValidateBase(node)
	cfg, err := s.decodeConfig(node)
	if err != nil {
		report.Errors = append(report.Errors, FieldError{Field: "config", Message: "invalid delay config: " + err.Error()})
		return report
	}
	if cfg.DurationMs <= 0 {
		report.Errors = append(report.Errors, FieldError{Field: "durationMs", Message: "durationMs must be positive"})
	}
	return report
}

// Execute blocks for the configured duration or until ctx is canceled.
func (s *DelayStrategy) Execute(ctx context.Context, view RunView, node workflow.Node, input interface{}) (ExecutionResult, error) {
	cfg, err := s.decodeConfig(node)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}, nil
	}
	timer := time.NewTimer(time.Duration(cfg.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ExecutionResult{Success: true, Output: input}, nil
	case <-ctx.Done():
		return ExecutionResult{Success: false, Error: ctx.Err().Error()}, ctx.Err()
	}
}

// Cleanup is a no-op: the timer is already stopped by Execute's defer.
func (s *DelayStrategy) Cleanup(ctx context.Context, view RunView, node workflow.Node) {}
