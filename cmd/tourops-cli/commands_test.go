package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourops/tourops/cmd/tourops-cli/cli"
	"github.com/tourops/tourops/internal/app"
	"github.com/tourops/tourops/internal/insights"
	"github.com/tourops/tourops/jobs"
)

type fakeService struct {
	got insights.Request
	err error
}

func (f *fakeService) Monthly(_ context.Context, req insights.Request) (insights.Report, error) {
	f.got = req
	if f.err != nil {
		return insights.Report{}, f.err
	}
	return insights.Report{
		Month:            req.Month,
		WeeklyBreakdown:  []insights.WeekBreakdown{},
		PackageBreakdown: []insights.PackageBreakdown{},
	}, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Scheduled: 1}, nil
}

func (fakeInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskInsightsWarmup, NextProcessAt: time.Date(2025, 4, 2, 1, 15, 0, 0, time.UTC)}}, nil
}

func testDeps(service *fakeService, enq *fakeEnqueuer) deps {
	return deps{
		loadConfig: func() (*app.CLIConfig, error) {
			return &app.CLIConfig{RequestTimeout: time.Second, InsightsTimezone: "UTC"}, nil
		},
		openReports: func(context.Context, *app.CLIConfig) (cli.InsightsService, func(), error) {
			return service, func() {}, nil
		},
		openJobs: func(*app.CLIConfig) *cli.JobsCLI {
			return cli.NewJobsCLIWith(enq, fakeInspector{})
		},
	}
}

func run(t *testing.T, d deps, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr, d)
	return code, stdout.String(), stderr.String()
}

func TestReportCommandPrintsJSON(t *testing.T) {
	service := &fakeService{}
	guide := uuid.New()

	code, stdout, stderr := run(t, testDeps(service, nil), "report", "--guide", guide.String(), "--month", "2025-03", "--json")
	require.Equal(t, 0, code, stderr)

	var report insights.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "2025-03", report.Month)
	assert.Equal(t, guide, service.got.GuideID)
	assert.Nil(t, service.got.BranchID)
}

func TestReportCommandExitCodes(t *testing.T) {
	guide := uuid.New().String()

	code, _, stderr := run(t, testDeps(&fakeService{}, nil), "report", "--guide", "not-a-uuid")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "report:")

	code, _, stderr = run(t, testDeps(&fakeService{}, nil), "report", "--guide", guide, "--lang", "!!")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid --lang")

	code, _, _ = run(t, testDeps(&fakeService{}, nil), "report", "--bogus")
	assert.Equal(t, 2, code)

	code, _, stderr = run(t, testDeps(&fakeService{err: errors.New("db down")}, nil), "report", "--guide", guide)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "db down")
}

func TestCommandsDoNotNeedJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	d := testDeps(&fakeService{}, &fakeEnqueuer{})
	d.loadConfig = app.LoadCLIConfig

	code, _, stderr := run(t, d, "jobs", "trigger", "--name", jobs.TaskInsightsCacheBump, "--arg", "ledger fix")
	assert.Equal(t, 0, code, stderr)
}

func TestConfigErrorsExitOne(t *testing.T) {
	d := testDeps(&fakeService{}, &fakeEnqueuer{})
	d.loadConfig = func() (*app.CLIConfig, error) { return nil, errors.New("bad env") }

	code, _, stderr := run(t, d, "jobs", "inspect")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "load config: bad env")
}

func TestJobsTriggerCommand(t *testing.T) {
	enq := &fakeEnqueuer{}

	code, stdout, stderr := run(t, testDeps(nil, enq), "jobs", "trigger", "--name", jobs.TaskInsightsWarmup, "--arg", "2025-02")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "enqueued insights:warmup id=task-1 queue=default")
	require.Len(t, enq.tasks, 1)
	assert.JSONEq(t, `{"month":"2025-02"}`, string(enq.tasks[0].Payload()))

	code, _, stderr = run(t, testDeps(nil, enq), "jobs", "trigger", "--name", "mail:send")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported job")

	code, _, _ = run(t, testDeps(nil, enq), "jobs", "trigger")
	assert.NotEqual(t, 0, code)
	assert.Len(t, enq.tasks, 1)
}

func TestJobsInspectCommand(t *testing.T) {
	code, stdout, stderr := run(t, testDeps(nil, &fakeEnqueuer{}), "jobs", "inspect", "--limit", "5")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "queue=default pending=2 active=0 scheduled=1 retry=0")
	assert.Contains(t, stdout, "s1 insights:warmup at 2025-04-02T01:15:00Z")
}
