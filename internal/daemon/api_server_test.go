package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sermonpipe/internal/api"
	"sermonpipe/internal/cancel"
	"sermonpipe/internal/config"
	"sermonpipe/internal/deadline"
	"sermonpipe/internal/docstore"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/objectstore"
	"sermonpipe/internal/pipeline"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/progress"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/source"
	"sermonpipe/internal/testsupport"
	"sermonpipe/internal/workflow"
)

type runnerFunc func(ctx context.Context, job source.Job, token *cancel.Token) (pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, job source.Job, token *cancel.Token) (pipeline.Result, error) {
	return f(ctx, job, token)
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	cfg    *config.Config
	daemon *Daemon
	store  *queue.Store
	docs   docstore.Store
	bucket *objectstore.LocalBucket
}

func newFixture(t *testing.T, backends preflight.Backends, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	logger := logging.NewNop()
	store := testsupport.MustOpenStore(t, cfg)
	docs, err := docstore.OpenSQLite(context.Background(), cfg.Documents.DSN, logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })
	bucket, err := objectstore.NewLocal(cfg.Storage.LocalRoot, logger)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	runner := runnerFunc(func(ctx context.Context, job source.Job, _ *cancel.Token) (pipeline.Result, error) {
		return pipeline.Result{JobID: job.ID}, nil
	})
	mgr := workflow.NewManager(store, runner, workflow.Options{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  time.Minute,
		Guard:             deadline.Guard{Budget: time.Minute, Drain: time.Second},
	}, nil, logger)
	svc := api.NewService(api.ServiceDeps{
		Tasks:     store,
		Documents: docs,
		Progress:  progress.NewMemory(),
		Generator: pipeline.NewGenerator(docs, bucket, store, logger),
		Aborter:   mgr,
		Logger:    logger,
	})

	d, err := New(cfg, Deps{
		Store:    store,
		Workflow: mgr,
		Service:  svc,
		Backends: backends,
		Metrics:  metrics.New(),
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixture{cfg: cfg, daemon: d, store: store, docs: docs, bucket: bucket}
}

func (f fixture) do(t *testing.T, method, target, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.daemon.server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func (f fixture) putSource(t *testing.T, key string) {
	t.Helper()
	local := filepath.Join(t.TempDir(), "source.mp3")
	if err := os.WriteFile(local, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := f.bucket.Upload(context.Background(), local, key, objectstore.UploadOptions{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newFixture(t, preflight.Backends{}, testsupport.WithAPIToken("secret"))

	resp, _ := f.do(t, http.MethodGet, "/api/tasks", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/tasks", "", "Authorization", "Bearer wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/tasks", "", "Authorization", "Bearer secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth: status %d", resp.StatusCode)
	}
}

func TestAPISubmitAndDescribeJob(t *testing.T) {
	f := newFixture(t, preflight.Backends{})
	f.putSource(t, "raw/s1.mp3")

	resp, body := f.do(t, http.MethodPut, "/api/sermons/s1", `{"title":"Sunday Service"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put sermon: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/jobs",
		`{"id":"s1","startTime":30,"duration":600,"storageFilePath":"raw/s1.mp3"}`,
		"X-Request-Id", "req-1")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Request-Id"); got != "req-1" {
		t.Fatalf("request id header = %q", got)
	}
	submitted := decode[api.TaskResponse](t, body)
	if submitted.Task.JobID != "s1" || submitted.Task.Status != "pending" {
		t.Fatalf("unexpected task %#v", submitted.Task)
	}

	resp, body = f.do(t, http.MethodGet, "/api/jobs/s1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job: %d %s", resp.StatusCode, body)
	}
	job := decode[api.Job](t, body)
	if job.Sermon == nil || job.Sermon.Title != "Sunday Service" {
		t.Fatalf("unexpected sermon %#v", job.Sermon)
	}
	if job.Sermon.AudioStatus != string(docstore.StatusPending) || job.Sermon.Message != pipeline.MessageQueued {
		t.Fatalf("status = %s %q", job.Sermon.AudioStatus, job.Sermon.Message)
	}
	if job.Task == nil || job.Task.ID != submitted.Task.ID {
		t.Fatalf("unexpected task %#v", job.Task)
	}
}

func TestAPISubmitErrors(t *testing.T) {
	f := newFixture(t, preflight.Backends{})

	resp, body := f.do(t, http.MethodPost, "/api/jobs", `{"id":"s1","duration":60}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid payload: %d %s", resp.StatusCode, body)
	}
	invalid := decode[api.ErrorResponse](t, body)
	if invalid.Kind != "invalid_argument" || !strings.HasPrefix(invalid.Error, "Invalid request:") {
		t.Fatalf("unexpected error body %#v", invalid)
	}

	resp, body = f.do(t, http.MethodPost, "/api/jobs", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/jobs", `{"id":"s1","duration":60,"storageFilePath":"raw/none.mp3"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing source: %d %s", resp.StatusCode, body)
	}
	if got := decode[api.ErrorResponse](t, body); got.Kind != "not_found" {
		t.Fatalf("unexpected error body %#v", got)
	}

	resp, body = f.do(t, http.MethodGet, "/api/jobs/unknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job: %d %s", resp.StatusCode, body)
	}
	if got := decode[api.ErrorResponse](t, body); got.Error != "Sermon not found" {
		t.Fatalf("unexpected error body %#v", got)
	}
}

func TestAPIAbortPendingJob(t *testing.T) {
	f := newFixture(t, preflight.Backends{})
	testsupport.Enqueue(t, f.store, "s1")

	resp, body := f.do(t, http.MethodPost, "/api/jobs/s1/abort", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("abort: %d %s", resp.StatusCode, body)
	}
	result := decode[api.AbortResult](t, body)
	if result.Outcome != api.AbortRequested || result.PriorStatus != "pending" {
		t.Fatalf("unexpected result %#v", result)
	}
	task, _ := f.store.GetByJobID(context.Background(), "s1")
	if task.Status != queue.StatusCancelled {
		t.Fatalf("status = %s", task.Status)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/jobs/missing/abort", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("abort unknown: %d", resp.StatusCode)
	}
}

func TestAPITasksFilterRetryAndPrune(t *testing.T) {
	f := newFixture(t, preflight.Backends{})
	ctx := context.Background()
	testsupport.Enqueue(t, f.store, "s1")
	testsupport.Enqueue(t, f.store, "s2")
	claimed, err := f.store.ClaimNext(ctx, "run-1")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}
	if _, err := f.store.Fail(ctx, claimed.ID, claimed.RunID, errors.New("boom"), false); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resp, body := f.do(t, http.MethodGet, "/api/tasks?status=failed", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	failed := decode[api.TaskListResponse](t, body)
	if len(failed.Tasks) != 1 || failed.Tasks[0].ID != claimed.ID {
		t.Fatalf("unexpected failed tasks %#v", failed.Tasks)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/tasks?status=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status: %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodPost, "/api/tasks/retry", `{"ids":[`+jsonInt(claimed.ID)+`,999]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry: %d %s", resp.StatusCode, body)
	}
	retried := decode[api.RetryTasksResult](t, body)
	if retried.UpdatedCount != 1 || retried.Tasks[1].Outcome != api.RetryTaskNotFound {
		t.Fatalf("unexpected retry result %#v", retried)
	}

	if _, err := f.store.Cancel(ctx, "s2"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	resp, _ = f.do(t, http.MethodDelete, "/api/tasks?olderThan=soon", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad age: %d", resp.StatusCode)
	}
	time.Sleep(5 * time.Millisecond)
	resp, body = f.do(t, http.MethodDelete, "/api/tasks?olderThan=0s", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prune: %d %s", resp.StatusCode, body)
	}
	if pruned := decode[api.PruneResult](t, body); pruned.RemovedCount != 1 {
		t.Fatalf("removed = %d, want 1", pruned.RemovedCount)
	}
}

func TestAPISermonsList(t *testing.T) {
	f := newFixture(t, preflight.Backends{})
	f.do(t, http.MethodPut, "/api/sermons/s1", `{"title":"One"}`)
	f.do(t, http.MethodPut, "/api/sermons/s2", `{"title":"Two"}`)

	resp, body := f.do(t, http.MethodGet, "/api/sermons?limit=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list sermons: %d %s", resp.StatusCode, body)
	}
	if list := decode[api.SermonListResponse](t, body); len(list.Sermons) != 1 {
		t.Fatalf("expected one sermon, got %#v", list.Sermons)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/sermons?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	healthy := newFixture(t, preflight.Backends{Documents: up, Progress: up})
	resp, body := healthy.do(t, http.MethodGet, "/healthz?deep=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deep health: %d %s", resp.StatusCode, body)
	}
	if got := decode[api.HealthResponse](t, body); got.Status != "ok" || len(got.Checks) != 2 {
		t.Fatalf("unexpected health %#v", got)
	}

	degraded := newFixture(t, preflight.Backends{Documents: up, Progress: down})
	resp, _ = degraded.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shallow health should ignore backends: %d", resp.StatusCode)
	}
	resp, body = degraded.do(t, http.MethodGet, "/healthz?deep=true", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded health: %d %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, preflight.Backends{})
	f.do(t, http.MethodGet, "/api/tasks", "")

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `sermonpipe_http_requests_total{code="200",method="GET",path="/api/tasks"} 1`) {
		t.Fatalf("request counter missing from metrics output:\n%s", body)
	}
}

func TestAPIStatus(t *testing.T) {
	f := newFixture(t, preflight.Backends{}, testsupport.WithStubbedBinaries())
	resp, body := f.do(t, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	status := decode[api.DaemonStatus](t, body)
	if status.Running || status.QueueDBPath != f.store.Path() || status.LockFilePath != f.cfg.LockPath() {
		t.Fatalf("unexpected status %#v", status)
	}
	if len(status.Dependencies) != 3 {
		t.Fatalf("expected three dependencies, got %#v", status.Dependencies)
	}
	for _, dep := range status.Dependencies {
		if !dep.Available {
			t.Fatalf("stubbed dependency unavailable: %#v", dep)
		}
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
