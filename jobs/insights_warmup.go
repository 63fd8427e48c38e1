package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tourops/tourops/internal/auth"
	"github.com/tourops/tourops/internal/insights"
	jobmetrics "github.com/tourops/tourops/internal/jobs"
)

const (
	warmupGuideTimeout = 20 * time.Second
	warmupLockTTL      = 30 * time.Minute
)

// InsightsService builds monthly reports.
type InsightsService interface {
	Monthly(ctx context.Context, req insights.Request) (insights.Report, error)
	ResolveMonth(raw string) insights.Month
}

// GuideLister discovers guides with completed work in a range.
type GuideLister interface {
	ActiveGuides(ctx context.Context, rng insights.Range) ([]uuid.UUID, error)
}

// InsightsWarmupJob pre-populates the insights cache for guides active in a finished month.
type InsightsWarmupJob struct {
	Insights InsightsService
	Guides   GuideLister
	Scopes   auth.ScopeResolver
	// Locker, when set, keeps two workers from warming the same month at once.
	Locker   *redislock.Client
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInsightsWarmupJob wires dependencies for the warmup handler.
func NewInsightsWarmupJob(svc InsightsService, guides GuideLister, scopes auth.ScopeResolver, logger *slog.Logger, metrics *jobmetrics.Metrics) *InsightsWarmupJob {
	return &InsightsWarmupJob{
		Insights: svc,
		Guides:   guides,
		Scopes:   scopes,
		Logger:   logger,
		Metrics:  metrics,
	}
}

// Handle processes insights warmup tasks. A failing guide is logged and skipped so
// one bad record does not block the rest of the month.
func (j *InsightsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Insights == nil || j.Guides == nil {
		return errors.New("insights warmup: handler not configured")
	}
	var payload InsightsWarmupPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskInsightsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	month := j.targetMonth(payload.Month)
	logger := j.logger().With(slog.String("month", month.String()))
	lock, err := j.obtainLock(ctx, month)
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.Info("insights warmup already running elsewhere, skipping")
		return nil
	}
	if err != nil {
		logger.Error("obtain warmup lock", slog.Any("error", err))
		return err
	}
	if lock != nil {
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release warmup lock", slog.Any("error", err))
			}
		}()
	}

	logger.Info("starting insights warmup")
	start := time.Now()

	guides, err := j.Guides.ActiveGuides(ctx, month.Range())
	if err != nil {
		logger.Error("load warmup guides", slog.Any("error", err))
		return err
	}

	warmed, failed := 0, 0
	for _, guideID := range guides {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.warmGuide(ctx, guideID, month); err != nil {
			failed++
			j.Metrics.ObserveWarmupGuide(jobmetrics.GuideFailed)
			logger.Warn("warm guide", slog.String("guide_id", guideID.String()), slog.Any("error", err))
			continue
		}
		warmed++
		j.Metrics.ObserveWarmupGuide(jobmetrics.GuideWarmed)
	}

	logger.Info("completed insights warmup",
		slog.Int("guides", warmed),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
	if failed > 0 && warmed == 0 {
		return fmt.Errorf("insights warmup: all %d guides failed", failed)
	}
	return nil
}

func (j *InsightsWarmupJob) obtainLock(ctx context.Context, month insights.Month) (*redislock.Lock, error) {
	if j.Locker == nil {
		return nil, nil
	}
	return j.Locker.Obtain(ctx, WarmupLockKey(month), warmupLockTTL, nil)
}

// WarmupLockKey is the Redis key guarding a month's warmup run.
func WarmupLockKey(month insights.Month) string {
	return "lock:" + TaskInsightsWarmup + ":" + month.String()
}

func (j *InsightsWarmupJob) targetMonth(raw string) insights.Month {
	if raw != "" {
		return j.Insights.ResolveMonth(raw)
	}
	return j.Insights.ResolveMonth("").Previous()
}

func (j *InsightsWarmupJob) warmGuide(ctx context.Context, guideID uuid.UUID, month insights.Month) error {
	guideCtx, cancel := context.WithTimeout(ctx, warmupGuideTimeout)
	defer cancel()

	scope := insights.Scope{GuideID: guideID}
	if j.Scopes != nil {
		branch, err := j.Scopes.ResolveScope(guideCtx, guideID)
		if err != nil {
			return err
		}
		if !branch.Global {
			scope.BranchID = branch.BranchID
		}
	}
	_, err := j.Insights.Monthly(guideCtx, insights.Request{Scope: scope, Month: month.String()})
	return err
}

func (j *InsightsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInsightsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskInsightsWarmup))
}
