package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"siteplan/advisor"
	"siteplan/domain"
	"siteplan/storage"
	"siteplan/timeline"
	"siteplan/view"
)

type fakeAuth struct {
	actorFn func(string) (string, error)
}

func (f fakeAuth) ActorFromAuthHeader(h string) (string, error) { return f.actorFn(h) }

type fakeAdvisor struct {
	startFn func(context.Context, []domain.Task) error
	state   domain.AdviceState
	clearFn func(context.Context) error
}

func (f *fakeAdvisor) Start(ctx context.Context, tasks []domain.Task) error {
	if f.startFn == nil {
		return nil
	}
	return f.startFn(ctx, tasks)
}

func (f *fakeAdvisor) State(context.Context) domain.AdviceState { return f.state }

func (f *fakeAdvisor) Clear(ctx context.Context) error {
	if f.clearFn == nil {
		return nil
	}
	return f.clearFn(ctx)
}

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (m *memDeduper) Add(_ context.Context, actor, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	k := actor + ":" + key
	if m.keys[k] {
		return false, nil
	}
	m.keys[k] = true
	return true, nil
}

func (m *memDeduper) Remove(_ context.Context, actor, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, actor+":"+key)
	return nil
}

type testServer struct {
	e       *echo.Echo
	project *domain.Project
	store   *storage.MemoryStore
}

func newTestServer(t *testing.T, seed []domain.Task, mutate func(*Deps)) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore(seed)
	project := domain.NewProject("p1", store)
	deps := Deps{
		Board:   project,
		Advisor: &fakeAdvisor{},
		Logger:  logger,
		Today:   func() domain.Date { return domain.MustParseDate("2023-11-20") },
	}
	if mutate != nil {
		mutate(&deps)
	}
	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	e.Use(GzipRequestMiddleware())
	Register(e, deps)
	return &testServer{e: e, project: project, store: store}
}

func (s *testServer) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestReadRoutesOverSeed(t *testing.T) {
	srv := newTestServer(t, storage.DefaultSeed().Tasks, nil)

	rec := srv.do(http.MethodGet, "/api/tasks", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tasks status %d", rec.Code)
	}
	tasks := decodeBody[tasksResponse](t, rec)
	if len(tasks.Tasks) != 5 || tasks.Tasks[2].StartDate.String() != "2023-11-10" {
		t.Fatalf("unexpected tasks: %#v", tasks.Tasks)
	}

	rec = srv.do(http.MethodGet, "/api/stats", "", nil)
	stats := decodeBody[domain.ProjectStats](t, rec)
	want := domain.ProjectStats{Total: 5, Completed: 1, InProgress: 2, Delayed: 1, OverallProgress: 40}
	if stats != want {
		t.Fatalf("stats = %#v, want %#v", stats, want)
	}

	rec = srv.do(http.MethodGet, "/api/timeline", "", nil)
	layout := decodeBody[timeline.Layout](t, rec)
	if len(layout.Bars) != 5 || len(layout.Connectors) != 4 {
		t.Fatalf("unexpected layout: %d bars %d connectors", len(layout.Bars), len(layout.Connectors))
	}

	if rec := srv.do(http.MethodGet, "/api/timeline?today=nope", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid today status %d", rec.Code)
	}
	if rec := srv.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestGetScreen(t *testing.T) {
	adv := &fakeAdvisor{state: domain.AdviceState{InFlight: true}}
	srv := newTestServer(t, storage.DefaultSeed().Tasks, func(d *Deps) { d.Advisor = adv })

	tests := []struct {
		path   string
		status int
		check  func(t *testing.T, p view.Page)
	}{
		{path: "/api/screens/overview", status: http.StatusOK, check: func(t *testing.T, p view.Page) {
			if p.Title != "項目概覽" || p.Stats == nil || p.Stats.Total != 5 {
				t.Fatalf("overview: %#v", p)
			}
		}},
		{path: "/api/screens/list?selected=2", status: http.StatusOK, check: func(t *testing.T, p view.Page) {
			if len(p.Tasks) != 5 || p.Selected == nil || p.Selected.Name != "鋼筋綁紮與模板" {
				t.Fatalf("list: %#v", p)
			}
		}},
		{path: "/api/screens/gantt", status: http.StatusOK, check: func(t *testing.T, p view.Page) {
			if p.Screen != view.Timeline || p.Timeline == nil || len(p.Timeline.Connectors) != 4 {
				t.Fatalf("timeline: %#v", p)
			}
		}},
		{path: "/api/screens/ai", status: http.StatusOK, check: func(t *testing.T, p view.Page) {
			if p.Advice == nil || !p.Advice.InFlight {
				t.Fatalf("ai: %#v", p)
			}
		}},
		{path: "/api/screens/settings", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := srv.do(http.MethodGet, tt.path, "", nil)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decodeBody[view.Page](t, rec))
			}
		})
	}
}

func TestPostTaskCreatesTask(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(http.MethodPost, "/api/tasks", `{"name":" 放樣 ","startDate":"2024-02-01","progress":0,"category":"土木","manager":"陳大文","dependencies":["x","x",""]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	task := decodeBody[domain.Task](t, rec)
	if task.ID == "" || task.Name != "放樣" || task.Duration != domain.DefaultDuration {
		t.Fatalf("unexpected task: %#v", task)
	}
	if len(task.Dependencies) != 1 || task.Dependencies[0] != "x" {
		t.Fatalf("dependencies not normalised: %#v", task.Dependencies)
	}
	if srv.store.Len() != 1 {
		t.Fatalf("store length %d", srv.store.Len())
	}
}

func TestPostTaskRejectsInvalidInput(t *testing.T) {
	srv := newTestServer(t, storage.DefaultSeed().Tasks, nil)

	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{name: "empty name", body: `{"name":"","startDate":"2024-01-01","manager":"m"}`, wantFields: []string{"name"}},
		{name: "all missing", body: `{}`, wantFields: []string{"name", "manager", "startDate"}},
		{name: "zero duration", body: `{"name":"n","startDate":"2024-01-01","manager":"m","duration":0}`, wantFields: []string{"duration"}},
		{name: "bad date", body: `{"name":"n","startDate":"01/02/2024","manager":"m"}`, wantFields: []string{"startDate"}},
		{name: "unknown field", body: `{"name":"n","title":"x"}`},
		{name: "not json", body: `name=n`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(http.MethodPost, "/api/tasks", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			resp := decodeBody[errorResponse](t, rec)
			got := make(map[string]bool)
			for _, f := range resp.Fields {
				got[f.Field] = true
			}
			for _, f := range tt.wantFields {
				if !got[f] {
					t.Fatalf("missing field error %q in %#v", f, resp.Fields)
				}
			}
			if srv.store.Len() != 5 {
				t.Fatalf("rejected intake changed the store: %d tasks", srv.store.Len())
			}
		})
	}
}

func TestPostTaskGzipBody(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"name":"n","startDate":"2024-01-01","manager":"m"}`))
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid gzip status %d", rec.Code)
	}
}

func TestWriteRoutesRequireAuth(t *testing.T) {
	auth := fakeAuth{actorFn: func(h string) (string, error) {
		if h != "Bearer good.token.sig" {
			return "", errors.New("bad token")
		}
		return "site-manager", nil
	}}
	srv := newTestServer(t, nil, func(d *Deps) { d.Auth = auth })
	body := `{"name":"n","startDate":"2024-01-01","manager":"m"}`

	for _, route := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/tasks", body},
		{http.MethodPost, "/api/advice", ""},
		{http.MethodDelete, "/api/advice", ""},
	} {
		rec := srv.do(route.method, route.path, route.body, map[string]string{echo.HeaderAuthorization: "Bearer bad.token.sig"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s status %d, want 401", route.method, route.path, rec.Code)
		}
	}
	if srv.store.Len() != 0 {
		t.Fatalf("unauthenticated intake appended a task")
	}
	if rec := srv.do(http.MethodGet, "/api/tasks", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("reads must stay open, got %d", rec.Code)
	}
	rec := srv.do(http.MethodPost, "/api/tasks", body, map[string]string{echo.HeaderAuthorization: "Bearer good.token.sig"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("authorised intake status %d", rec.Code)
	}
}

func TestPostTaskIdempotencyKey(t *testing.T) {
	dedup := &memDeduper{}
	srv := newTestServer(t, nil, func(d *Deps) { d.Deduper = dedup })
	header := map[string]string{headerIdempotencyKey: "req-1"}

	rec := srv.do(http.MethodPost, "/api/tasks", `{"name":"","startDate":"2024-01-01","manager":"m"}`, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status %d", rec.Code)
	}
	body := `{"name":"n","startDate":"2024-01-01","manager":"m"}`
	if rec := srv.do(http.MethodPost, "/api/tasks", body, header); rec.Code != http.StatusCreated {
		t.Fatalf("key must be reusable after a rejected intake, got %d", rec.Code)
	}
	if rec := srv.do(http.MethodPost, "/api/tasks", body, header); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status %d", rec.Code)
	}
	if srv.store.Len() != 1 {
		t.Fatalf("expected a single append, got %d", srv.store.Len())
	}

	dedup.err = errors.New("redis down")
	if rec := srv.do(http.MethodPost, "/api/tasks", body, header); rec.Code != http.StatusCreated {
		t.Fatalf("intake must proceed without deduper, got %d", rec.Code)
	}
}

func TestAdviceRoutes(t *testing.T) {
	var started []domain.Task
	cleared := false
	adv := &fakeAdvisor{
		startFn: func(_ context.Context, tasks []domain.Task) error {
			if started != nil {
				return advisor.ErrInFlight
			}
			started = tasks
			return nil
		},
		clearFn: func(context.Context) error { cleared = true; return nil },
	}
	srv := newTestServer(t, storage.DefaultSeed().Tasks, func(d *Deps) { d.Advisor = adv })

	if rec := srv.do(http.MethodPost, "/api/advice", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("start status %d", rec.Code)
	}
	if len(started) != 5 {
		t.Fatalf("advisor received %d tasks", len(started))
	}
	if rec := srv.do(http.MethodPost, "/api/advice", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("in-flight status %d", rec.Code)
	}

	adv.state = domain.AdviceState{Advice: &domain.Advice{OK: true, Text: "- ok"}}
	rec := srv.do(http.MethodGet, "/api/advice", "", nil)
	state := decodeBody[domain.AdviceState](t, rec)
	if state.Advice == nil || state.Advice.Text != "- ok" {
		t.Fatalf("unexpected state %#v", state)
	}

	if rec := srv.do(http.MethodDelete, "/api/advice", "", nil); rec.Code != http.StatusNoContent || !cleared {
		t.Fatalf("clear status %d cleared=%v", rec.Code, cleared)
	}

	adv.startFn = func(context.Context, []domain.Task) error { return errors.New("redis down") }
	if rec := srv.do(http.MethodPost, "/api/advice", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("guard failure status %d", rec.Code)
	}
}

func TestAdviceWithRunnerFallsBack(t *testing.T) {
	logger, _ := test.NewNullLogger()
	client := advisor.NewClient(advisor.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("network unreachable")
	}), advisor.WithLogger(logger))
	runner := advisor.NewRunner(client, nil, nil, logger)
	srv := newTestServer(t, storage.DefaultSeed().Tasks, func(d *Deps) { d.Advisor = runner })

	if rec := srv.do(http.MethodPost, "/api/advice", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("start status %d", rec.Code)
	}
	runner.Wait()

	state := decodeBody[domain.AdviceState](t, srv.do(http.MethodGet, "/api/advice", "", nil))
	if state.InFlight || state.Advice == nil || state.Advice.OK {
		t.Fatalf("unexpected state %#v", state)
	}
	if state.Advice.Text != advisor.FallbackMessage(advisor.LanguageZhTW) {
		t.Fatalf("unexpected fallback %q", state.Advice.Text)
	}
}

func TestEndToEndChainProducesTwoConnectors(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		deps := "[]"
		if i == 1 || i == 2 {
			deps = `["` + ids[i-1] + `"]`
		}
		body := `{"name":"task","startDate":"2024-01-0` + string(rune('1'+i)) + `","duration":3,"manager":"m","dependencies":` + deps + `}`
		rec := srv.do(http.MethodPost, "/api/tasks", body, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("append %d status %d: %s", i, rec.Code, rec.Body.String())
		}
		ids = append(ids, decodeBody[domain.Task](t, rec).ID)
	}

	layout := decodeBody[timeline.Layout](t, srv.do(http.MethodGet, "/api/timeline", "", nil))
	if len(layout.Connectors) != 2 {
		t.Fatalf("expected 2 connectors, got %#v", layout.Connectors)
	}
	for i, c := range layout.Connectors {
		if c.FromRow >= c.ToRow {
			t.Fatalf("connector %d not in insertion order: %#v", i, c)
		}
		if c.FromID != ids[i] || c.ToID != ids[i+1] {
			t.Fatalf("connector %d = %s->%s, want %s->%s", i, c.FromID, c.ToID, ids[i], ids[i+1])
		}
	}
}

func TestDispatchOnAppend(t *testing.T) {
	persisted := make(chan int, 4)
	published := make(chan domain.TaskEvent, 4)
	persister := persisterFunc(func(_ context.Context, tasks []domain.Task) error {
		persisted <- len(tasks)
		return nil
	})
	publisher := publisherFunc(func(_ context.Context, ev domain.TaskEvent) error {
		published <- ev
		return nil
	})

	var srv *testServer
	srv = newTestServer(t, storage.DefaultSeed().Tasks, func(d *Deps) {
		d.Auth = fakeAuth{actorFn: func(string) (string, error) { return "site-manager", nil }}
		d.Dispatcher = NewDispatcher("p1", func() []domain.Task { return srv.project.Tasks() }, persister, publisher, d.Logger,
			DispatcherConfig{Workers: 1, Buffer: 1, Timeout: time.Second})
		t.Cleanup(d.Dispatcher.Close)
	})

	rec := srv.do(http.MethodPost, "/api/tasks", `{"name":"n","startDate":"2024-01-01","manager":"m"}`, map[string]string{echo.HeaderAuthorization: "Bearer a.b.c"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	task := decodeBody[domain.Task](t, rec)

	select {
	case n := <-persisted:
		if n != 6 {
			t.Fatalf("persisted %d tasks, want 6", n)
		}
	case <-time.After(time.Second):
		t.Fatal("snapshot was not persisted")
	}
	select {
	case ev := <-published:
		if ev.Type != domain.EventTaskAppended || ev.Actor != "site-manager" || ev.ProjectID != "p1" || ev.Task.ID != task.ID || ev.ID == "" {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
}
