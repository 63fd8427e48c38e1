package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourops/tourops/internal/auth"
	"github.com/tourops/tourops/internal/insights"
	jobmetrics "github.com/tourops/tourops/internal/jobs"
)

var testNow = time.Date(2025, 4, 2, 1, 0, 0, 0, time.UTC)

type stubInsights struct {
	mu       sync.Mutex
	requests []insights.Request
	failFor  map[uuid.UUID]bool
}

func (s *stubInsights) Monthly(ctx context.Context, req insights.Request) (insights.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.failFor[req.GuideID] {
		return insights.Report{}, errors.New("db down")
	}
	return insights.Report{Month: req.Month}, nil
}

func (s *stubInsights) ResolveMonth(raw string) insights.Month {
	return insights.ResolveMonth(raw, testNow)
}

type stubGuides struct {
	guides []uuid.UUID
	err    error
	got    insights.Range
}

func (s *stubGuides) ActiveGuides(ctx context.Context, rng insights.Range) ([]uuid.UUID, error) {
	s.got = rng
	return s.guides, s.err
}

type stubScopes map[uuid.UUID]auth.BranchScope

func (s stubScopes) ResolveScope(ctx context.Context, actorID uuid.UUID) (auth.BranchScope, error) {
	return s[actorID], nil
}

func newWarmupJob(svc *stubInsights, guides *stubGuides, scopes auth.ScopeResolver) *InsightsWarmupJob {
	return NewInsightsWarmupJob(svc, guides, scopes, nil, jobmetrics.NewMetrics())
}

func TestInsightsWarmupDefaultsToPreviousMonth(t *testing.T) {
	branch := uuid.New()
	scoped, global := uuid.New(), uuid.New()
	svc := &stubInsights{}
	guides := &stubGuides{guides: []uuid.UUID{scoped, global}}
	scopes := stubScopes{
		scoped: {BranchID: &branch},
		global: {Global: true, BranchID: &branch},
	}

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.NoError(t, newWarmupJob(svc, guides, scopes).Handle(context.Background(), task))

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), guides.got.Start)
	require.Len(t, svc.requests, 2)
	assert.Equal(t, "2025-03", svc.requests[0].Month)
	assert.Equal(t, &branch, svc.requests[0].BranchID)
	assert.Nil(t, svc.requests[1].BranchID)
}

func TestInsightsWarmupExplicitMonth(t *testing.T) {
	svc := &stubInsights{}
	guides := &stubGuides{guides: []uuid.UUID{uuid.New()}}

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{Month: "2024-11"})
	require.NoError(t, err)
	require.NoError(t, newWarmupJob(svc, guides, nil).Handle(context.Background(), task))

	require.Len(t, svc.requests, 1)
	assert.Equal(t, "2024-11", svc.requests[0].Month)
}

func TestInsightsWarmupSkipsFailingGuides(t *testing.T) {
	bad, good := uuid.New(), uuid.New()
	svc := &stubInsights{failFor: map[uuid.UUID]bool{bad: true}}
	guides := &stubGuides{guides: []uuid.UUID{bad, good}}

	job := newWarmupJob(svc, guides, nil)

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Len(t, svc.requests, 2)

	svc.failFor[good] = true
	require.Error(t, job.Handle(context.Background(), task))

	body := scrape(t, job.Metrics)
	assert.Contains(t, body, `tourops_insights_warmup_guides_total{result="warmed"} 1`)
	assert.Contains(t, body, `tourops_insights_warmup_guides_total{result="failed"} 3`)
	assert.Contains(t, body, `tourops_jobs_failures_total{job="insights:warmup"} 1`)
}

func scrape(t *testing.T, metrics *jobmetrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestInsightsWarmupSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redislock.New(client)
	ctx := context.Background()

	svc := &stubInsights{}
	guides := &stubGuides{guides: []uuid.UUID{uuid.New()}}
	job := newWarmupJob(svc, guides, nil)
	job.Locker = locker

	held, err := locker.Obtain(ctx, WarmupLockKey(svc.ResolveMonth("2025-03")), time.Minute, nil)
	require.NoError(t, err)

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	assert.Empty(t, svc.requests)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, job.Handle(ctx, task))
	assert.Len(t, svc.requests, 1)
	assert.False(t, mr.Exists(WarmupLockKey(svc.ResolveMonth("2025-03"))), "lock released after run")
}

func TestInsightsWarmupPropagatesDiscoveryError(t *testing.T) {
	guides := &stubGuides{err: errors.New("query failed")}
	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.Error(t, newWarmupJob(&stubInsights{}, guides, nil).Handle(context.Background(), task))
}

func TestInvalidPayloadsSkipRetry(t *testing.T) {
	_, err := NewInsightsWarmupTask(InsightsWarmupPayload{Month: "March"})
	require.Error(t, err)

	job := newWarmupJob(&stubInsights{}, &stubGuides{}, nil)
	raw, err := json.Marshal(InsightsWarmupPayload{Month: "2025-13"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(TaskInsightsWarmup, raw))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskInsightsWarmup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubBumper struct {
	version int64
	err     error
}

func (s *stubBumper) Bump(ctx context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.version++
	return s.version, nil
}

func TestCacheBumpJob(t *testing.T) {
	bumper := &stubBumper{version: 1}
	job := &CacheBumpJob{Cache: bumper, Metrics: jobmetrics.NewMetrics()}

	task, err := NewCacheBumpTask(CacheBumpPayload{Reason: "ledger correction"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.EqualValues(t, 2, bumper.version)

	bumper.err = errors.New("redis down")
	require.Error(t, job.Handle(context.Background(), task))

	var nilJob *CacheBumpJob
	require.Error(t, nilJob.Handle(context.Background(), task))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestJobsHealth(t *testing.T) {
	cases := map[string]struct {
		inspector QueueInspector
		status    int
		body      string
	}{
		"no inspector": {nil, http.StatusOK, `{"queue":"default","pending":0,"active":0,"failed":0}`},
		"queue info": {
			stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Active: 1, Failed: 2}},
			http.StatusOK, `{"queue":"default","pending":3,"active":1,"failed":2}`,
		},
		"missing queue":     {stubInspector{err: asynq.ErrQueueNotFound}, http.StatusOK, `{"queue":"default","pending":0,"active":0,"failed":0}`},
		"redis unavailable": {stubInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, `{"error":"Service Unavailable"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.status, rr.Code)
			assert.JSONEq(t, tc.body, rr.Body.String())
		})
	}
}
