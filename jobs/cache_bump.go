package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tourops/tourops/internal/jobs"
)

// CacheBumper invalidates cached reports.
type CacheBumper interface {
	Bump(ctx context.Context) (int64, error)
}

// CacheBumpJob bumps the insights cache version, e.g. after late ledger corrections.
type CacheBumpJob struct {
	Cache   CacheBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes cache bump tasks.
func (j *CacheBumpJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cache == nil {
		return errors.New("insights cache bump: handler not configured")
	}
	var payload CacheBumpPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskInsightsCacheBump)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version, err := j.Cache.Bump(ctx)
	if err != nil {
		logger.Error("bump insights cache", slog.String("job", TaskInsightsCacheBump), slog.Any("error", err))
		return err
	}
	logger.Info("bumped insights cache",
		slog.String("job", TaskInsightsCacheBump),
		slog.Int64("version", version),
		slog.String("reason", payload.Reason),
	)
	return nil
}
