package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/internal/testpdf"
	"github.com/canectors/viewexport/pkg/export"
)

type stubClient struct {
	mu       sync.Mutex
	views    []export.View
	authErr  error
	findErr  error
	onRender func(ctx context.Context, view export.View)
	renders  []string
	released int
}

func newStubClient(names ...string) *stubClient {
	c := &stubClient{}
	for _, n := range names {
		c.views = append(c.views, export.View{ID: "id-" + n, Name: n})
	}
	return c
}

func (c *stubClient) Authenticate(context.Context, reporting.Credentials) (*reporting.Session, error) {
	if c.authErr != nil {
		return nil, c.authErr
	}
	return &reporting.Session{Token: "t"}, nil
}

func (c *stubClient) FindItem(_ context.Context, _ *reporting.Session, name string) (reporting.Item, error) {
	if c.findErr != nil {
		return reporting.Item{}, c.findErr
	}
	return reporting.Item{ID: "wb", Name: name}, nil
}

func (c *stubClient) ListChildren(context.Context, *reporting.Session, reporting.Item) ([]export.View, error) {
	return c.views, nil
}

func (c *stubClient) Render(ctx context.Context, _ *reporting.Session, view export.View, _ export.Format, _ export.Parameters) ([]byte, error) {
	c.mu.Lock()
	c.renders = append(c.renders, view.Name)
	hook := c.onRender
	c.mu.Unlock()
	if hook != nil {
		hook(ctx, view)
	}
	if err := ctx.Err(); err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}
	return testpdf.Build("BT (" + view.Name + ") Tj ET"), nil
}

func (c *stubClient) Release(context.Context, *reporting.Session) error {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, c reporting.Client) *Server {
	t.Helper()
	return New(Options{
		Clients:    func(export.ServerConfig) reporting.Client { return c },
		Sleep:      func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		OutputRoot: t.TempDir(),
		DataRoot:   t.TempDir(),
	})
}

func exportDocument(outputDir string) string {
	return fmt.Sprintf(`{
		"schemaVersion": "1.0",
		"export": {
			"name": "api-run",
			"server": {"url": "reports.example.com", "tokenName": "n", "tokenSecret": "s"},
			"workbook": "Sales",
			"mode": "fixed-list",
			"outputDir": %q
		}
	}`, outputDir)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func startTask(t *testing.T, s *Server, body string) *task {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/exports", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/exports = %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["taskId"]
	tk, ok := s.tasks.get(id)
	if !ok {
		t.Fatalf("task %q not registered", id)
	}
	return tk
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, newStubClient()), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("GET /healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestExport_RunsToSuccess(t *testing.T) {
	client := newStubClient("Overview", "Detail")
	s := newTestServer(t, client)
	defer s.Close()
	out := filepath.Join(s.opts.OutputRoot, "run")

	tk := startTask(t, s, exportDocument("run"))
	tk.handle.Wait()

	rec := do(t, s, http.MethodGet, "/api/exports/"+tk.id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	st := decode[TaskStatus](t, rec)
	if st.Status != StatusSuccess || st.Progress != 100 {
		t.Errorf("status = %s, progress = %d", st.Status, st.Progress)
	}
	if st.Summary != (export.Summary{Success: 2}) || st.State != export.StateCompleted {
		t.Errorf("summary = %+v, state = %s", st.Summary, st.State)
	}
	if !strings.Contains(st.Log, "Exported: Overview.pdf") {
		t.Errorf("log does not mention the export:\n%s", st.Log)
	}
	for _, name := range []string{"Overview.pdf", "Detail.pdf"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("artifact %s: %v", name, err)
		}
	}

	list := decode[[]TaskStatus](t, do(t, s, http.MethodGet, "/api/exports", ""))
	if len(list) != 1 || list[0].TaskID != tk.id || list[0].Log != "" {
		t.Errorf("list = %+v", list)
	}
}

func TestExport_SignInFailureIsFailure(t *testing.T) {
	client := newStubClient("Overview")
	client.authErr = errhandling.NewAuthenticationError(401, "bad token", nil)
	s := newTestServer(t, client)
	defer s.Close()

	tk := startTask(t, s, exportDocument("run"))
	tk.handle.Wait()

	st := tk.status()
	if st.Status != StatusFailure || st.Error == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestExport_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := newStubClient("A", "B", "C")
	var once sync.Once
	client.onRender = func(context.Context, export.View) {
		once.Do(func() { close(started) })
		<-release
	}
	s := newTestServer(t, client)
	defer s.Close()

	tk := startTask(t, s, exportDocument("run"))
	<-started
	if st := tk.status(); st.Status != StatusProgress {
		t.Errorf("running task status = %s, want PROGRESS", st.Status)
	}

	rec := do(t, s, http.MethodDelete, "/api/exports/"+tk.id, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("DELETE = %d", rec.Code)
	}
	close(release)
	tk.handle.Wait()

	st := decode[TaskStatus](t, do(t, s, http.MethodGet, "/api/exports/"+tk.id, ""))
	if st.Status != StatusStopped {
		t.Errorf("status = %s, want STOPPED", st.Status)
	}
	if len(client.renders) != 1 {
		t.Errorf("renders after cancel = %v", client.renders)
	}
}

func TestExport_RejectsInvalidConfiguration(t *testing.T) {
	s := newTestServer(t, newStubClient())
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{name: "not json", body: "{", detail: "syntax error"},
		{name: "schema", body: `{"schemaVersion": "1.0", "export": {"name": "x"}}`, detail: "/export"},
		{
			name: "semantic",
			body: strings.Replace(exportDocument("run"), `"outputDir"`,
				`"conditions": [{"field": "A", "comparator": "Between", "excludeViews": ["X"]}], "outputDir"`, 1),
			detail: "conditions[0]",
		},
		{name: "absolute outputDir", body: exportDocument("/tmp/elsewhere"), detail: "outputDir"},
		{name: "escaping outputDir", body: exportDocument("run/../../elsewhere"), detail: "outputDir"},
		{
			name: "escaping source path",
			body: strings.Replace(exportDocument("run"), `"mode": "fixed-list"`,
				`"mode": "fixed-list", "source": {"type": "csv", "path": "/etc/passwd"}`, 1),
			detail: "source.path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/exports", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if len(resp.Details) == 0 || !strings.Contains(strings.Join(resp.Details, "\n"), tt.detail) {
				t.Errorf("details %v do not mention %q", resp.Details, tt.detail)
			}
		})
	}
	if list := s.tasks.list(); len(list) != 0 {
		t.Errorf("rejected requests created tasks: %d", len(list))
	}
}

func TestExport_UnknownTask(t *testing.T) {
	s := newTestServer(t, newStubClient())
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		if rec := do(t, s, method, "/api/exports/nope", ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s unknown task = %d", method, rec.Code)
		}
	}
}

func TestTestConnection(t *testing.T) {
	body := `{"server": {"url": "reports.example.com", "tokenName": "n", "tokenSecret": "s"}}`

	ok := newStubClient()
	rec := do(t, newTestServer(t, ok), http.MethodPost, "/api/connection/test", body)
	if rec.Code != http.StatusOK || ok.released != 1 {
		t.Errorf("code = %d, releases = %d", rec.Code, ok.released)
	}

	bad := newStubClient()
	bad.authErr = errhandling.NewAuthenticationError(401, "bad token", nil)
	rec = do(t, newTestServer(t, bad), http.MethodPost, "/api/connection/test", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}

	rec = do(t, newTestServer(t, ok), http.MethodPost, "/api/connection/test", `{"srv": {}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field code = %d, want 400", rec.Code)
	}
}

func TestListViews(t *testing.T) {
	client := newStubClient("Zeta", "Alpha")
	s := newTestServer(t, client)
	server := `"server": {"url": "u", "tokenName": "n", "tokenSecret": "s"}`

	rec := do(t, s, http.MethodPost, "/api/views", `{`+server+`, "workbook": "Sales"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string][]string](t, rec)["views"]; strings.Join(got, ",") != "Alpha,Zeta" {
		t.Errorf("views = %v", got)
	}

	if rec := do(t, s, http.MethodPost, "/api/views", `{`+server+`}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing workbook code = %d", rec.Code)
	}

	client.findErr = errhandling.NewNotFoundError("workbook missing", reporting.ErrItemNotFound)
	if rec := do(t, s, http.MethodPost, "/api/views", `{`+server+`, "workbook": "Nope"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown workbook code = %d", rec.Code)
	}
}

func TestListColumns(t *testing.T) {
	s := newTestServer(t, newStubClient())
	if err := os.WriteFile(filepath.Join(s.opts.DataRoot, "rows.csv"), []byte("Name,Region\nAlpha,EU\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "outside.csv")
	if err := os.WriteFile(outside, []byte("Secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]interface{}{"source": export.SourceConfig{Type: "csv", Path: "rows.csv"}})
	rec := do(t, s, http.MethodPost, "/api/columns", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string][]string](t, rec)["columns"]; strings.Join(got, ",") != "Name,Region" {
		t.Errorf("columns = %v", got)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing source", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown type", body: `{"source": {"type": "excel"}}`, want: http.StatusBadRequest},
		{name: "missing file", body: `{"source": {"type": "csv", "path": "nope.csv"}}`, want: http.StatusNotFound},
		{name: "absolute path", body: fmt.Sprintf(`{"source": {"type": "csv", "path": %q}}`, outside), want: http.StatusBadRequest},
		{name: "escaping path", body: `{"source": {"type": "csv", "path": "../outside.csv"}}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodPost, "/api/columns", tt.body); rec.Code != tt.want {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestStartExport_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, newStubClient())
	big := bytes.Repeat([]byte("x"), MaxBodyBytes+1)
	rec := do(t, s, http.MethodPost, "/api/exports", string(big))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d", rec.Code)
	}
}
