package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("riverside")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	if _, err := e.InitProject(context.Background(), "riverside", "Riverside Tower", "RIV", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, body map[string]any) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", res.StatusCode, data)
	}
	var out TaskBody
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return out.Task
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope from %s: %v", data, err)
	}
	return envelope.Error.Code
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	created := createTask(t, srv, map[string]any{"title": "Pour foundation", "priority": "high"})
	if created.Code != "RIV-TSK-001" || created.Status != "todo" {
		t.Fatalf("created = %+v, want RIV-TSK-001 todo", created)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/projects/riverside/tasks/"+created.ID,
		map[string]any{"title": "Pour slab", "progress": 40})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d body %s", res.StatusCode, data)
	}
	var patched TaskBody
	if err := json.Unmarshal(data, &patched); err != nil {
		t.Fatalf("decode patched: %v", err)
	}
	if patched.Task.Title != "Pour slab" || patched.Task.Progress != 40 {
		t.Fatalf("patched = %+v", patched.Task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks/"+created.ID+"/status",
		map[string]any{"status": "completed"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d body %s", res.StatusCode, data)
	}
	var done TaskBody
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("decode done: %v", err)
	}
	if done.Task.Status != "completed" || done.Task.Progress != 100 {
		t.Fatalf("done = %+v, want completed at 100%%", done.Task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/projects/riverside/tasks/"+created.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d body %s", res.StatusCode, data)
	}
	var deleted DeleteTaskResponse
	if err := json.Unmarshal(data, &deleted); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if len(deleted.Removed) != 1 || deleted.Removed[0] != created.ID {
		t.Fatalf("removed = %v", deleted.Removed)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside/tasks/"+created.ID, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: %d body %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}
}

func TestCreateSubtaskRoute(t *testing.T) {
	srv := newTestServer(t)
	parent := createTask(t, srv, map[string]any{"title": "Foundation"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks/"+parent.ID+"/subtasks",
		map[string]any{"title": "Excavate"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask: %d body %s", res.StatusCode, data)
	}
	var sub TaskBody
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("decode subtask: %v", err)
	}
	if sub.Task.ParentID != parent.ID || sub.Task.Type != "subtask" {
		t.Fatalf("subtask = %+v, want child of %s", sub.Task, parent.ID)
	}
}

func TestReparentOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	parent := createTask(t, srv, map[string]any{"title": "Foundation"})
	child := createTask(t, srv, map[string]any{"title": "Excavate"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks/"+child.ID+"/reparent",
		map[string]any{"parent_id": parent.ID})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reparent: %d body %s", res.StatusCode, data)
	}
	var moved TaskBody
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("decode moved: %v", err)
	}
	if moved.Task.ParentID != parent.ID {
		t.Fatalf("moved = %+v, want child of %s", moved.Task, parent.ID)
	}

	// moving a parent under its own subtask must fail
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks/"+parent.ID+"/reparent",
		map[string]any{"parent_id": child.ID})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("cyclic reparent: %d body %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "cycle_detected" {
		t.Fatalf("error code = %q, want cycle_detected", code)
	}
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/riverside/tasks",
		map[string]any{"title": ""})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d body %s, want 400", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "validation_error" {
		t.Fatalf("error code = %q, want validation_error", code)
	}
}

func TestDependencyCycleRejectedOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	a := createTask(t, srv, map[string]any{"title": "First"})
	b := createTask(t, srv, map[string]any{"title": "Second", "dependencies": []string{a.ID}})

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/projects/riverside/tasks/"+a.ID,
		map[string]any{"dependencies": []string{b.ID}})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %s, want 409", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "cycle_detected" {
		t.Fatalf("error code = %q, want cycle_detected", code)
	}
}

func TestDeleteWithDependentsRejected(t *testing.T) {
	srv := newTestServer(t)
	a := createTask(t, srv, map[string]any{"title": "Framing"})
	createTask(t, srv, map[string]any{"title": "Electrical", "dependencies": []string{a.ID}})

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/projects/riverside/tasks/"+a.ID, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %s, want 409", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "has_dependents" {
		t.Fatalf("error code = %q, want has_dependents", code)
	}
}

func TestListTasksViews(t *testing.T) {
	srv := newTestServer(t)
	createTask(t, srv, map[string]any{"title": "Permits", "due_date": "2024-03-10"})
	createTask(t, srv, map[string]any{"title": "Excavation", "priority": "critical"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside/tasks?view=kanban", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d body %s", res.StatusCode, data)
	}
	var out struct {
		View struct {
			Kind   string `json:"kind"`
			Kanban *struct {
				Lanes []struct {
					Status string        `json:"status"`
					Cards  []domain.Task `json:"cards"`
					Count  int           `json:"count"`
				} `json:"lanes"`
			} `json:"kanban"`
		} `json:"view"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if out.View.Kind != "kanban" || out.View.Kanban == nil {
		t.Fatalf("view = %+v, want kanban payload", out.View)
	}
	if len(out.View.Kanban.Lanes) != 5 {
		t.Fatalf("lanes = %d, want 5", len(out.View.Kanban.Lanes))
	}
	if out.Total != 2 {
		t.Fatalf("total = %d, want 2", out.Total)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside/tasks?search=permits", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search: %d body %s", res.StatusCode, data)
	}
	var filtered struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(data, &filtered); err != nil {
		t.Fatalf("decode filtered: %v", err)
	}
	if filtered.Total != 1 {
		t.Fatalf("filtered total = %d, want 1", filtered.Total)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/projects/riverside/tasks?view=gantt&window_start=2024-03-01", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gantt: %d body %s", res.StatusCode, data)
	}
	var gantt struct {
		View struct {
			Gantt *struct {
				Start string `json:"start"`
				Bars  []struct {
					Offset int `json:"offset"`
				} `json:"bars"`
			} `json:"gantt"`
		} `json:"view"`
	}
	if err := json.Unmarshal(data, &gantt); err != nil {
		t.Fatalf("decode gantt: %v", err)
	}
	if gantt.View.Gantt == nil || gantt.View.Gantt.Start != "2024-03-01" {
		t.Fatalf("gantt = %+v, want window start 2024-03-01", gantt.View.Gantt)
	}
	// the dated task is due 2024-03-10, nine days into the window
	if len(gantt.View.Gantt.Bars) != 1 || gantt.View.Gantt.Bars[0].Offset != 9 {
		t.Fatalf("bars = %+v, want one at offset 9", gantt.View.Gantt.Bars)
	}
}

func TestStatsAndEventsRoutes(t *testing.T) {
	srv := newTestServer(t)
	created := createTask(t, srv, map[string]any{"title": "Inspection", "due_date": "2024-03-10"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d body %s", res.StatusCode, data)
	}
	var stats struct {
		Stats domain.Stats `json:"stats"`
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Stats.Total != 1 || stats.Stats.OverdueCount != 1 {
		t.Fatalf("stats = %+v, want 1 total 1 overdue", stats.Stats)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside/events?limit=5", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d body %s", res.StatusCode, data)
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) == 0 || events[0].Type != "task.created" {
		t.Fatalf("events = %+v, want task.created first", events)
	}
	if events[0].TaskID != created.ID {
		t.Fatalf("TaskID = %q, want %q", events[0].TaskID, created.ID)
	}
}

func TestProjectRoutes(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/riverside", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d body %s", res.StatusCode, data)
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if p.ID != "riverside" || p.CodePrefix != "RIV" {
		t.Fatalf("project = %+v", p)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/ghost", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project: %d body %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}
}
