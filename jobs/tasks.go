package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInsightsWarmup precomputes finished-month insights for active guides.
	TaskInsightsWarmup = "insights:warmup"
	// TaskInsightsCacheBump invalidates every cached insights report.
	TaskInsightsCacheBump = "insights:cache-bump"
)

var payloadValidator = validator.New()

// InsightsWarmupPayload selects the month to warm. Empty means the previous month.
type InsightsWarmupPayload struct {
	Month string `json:"month,omitempty" validate:"omitempty,datetime=2006-01"`
}

// CacheBumpPayload records why the insights cache was invalidated.
type CacheBumpPayload struct {
	Reason string `json:"reason,omitempty" validate:"max=200"`
}

// NewInsightsWarmupTask constructs an Asynq task.
func NewInsightsWarmupTask(payload InsightsWarmupPayload) (*asynq.Task, error) {
	return newTask(TaskInsightsWarmup, payload)
}

// NewCacheBumpTask constructs an Asynq task.
func NewCacheBumpTask(payload CacheBumpPayload) (*asynq.Task, error) {
	return newTask(TaskInsightsCacheBump, payload)
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("jobs: invalid %s payload: %w", typename, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, data), nil
}

// decodePayload unmarshals and validates a task payload. Malformed payloads are
// never retried.
func decodePayload(t *asynq.Task, dest any) error {
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), dest); err != nil {
			return fmt.Errorf("jobs: decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	if err := payloadValidator.Struct(dest); err != nil {
		return fmt.Errorf("jobs: validate %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
