package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/internal/testpdf"
	"github.com/canectors/viewexport/pkg/export"
)

type renderCall struct {
	view   string
	params map[string]string
}

// fakeClient is a scripted reporting.Client. Errors queued per view name are
// returned by successive Render calls before it starts succeeding.
type fakeClient struct {
	mu sync.Mutex

	views   []export.View
	authErr error
	findErr error
	listErr error

	renderErrs map[string][]error
	alwaysErr  map[string]error
	onRender   func(view export.View)

	calls    []renderCall
	released int
}

var _ reporting.Client = (*fakeClient)(nil)

func newFakeClient(names ...string) *fakeClient {
	c := &fakeClient{renderErrs: map[string][]error{}, alwaysErr: map[string]error{}}
	for _, n := range names {
		c.views = append(c.views, export.View{ID: "id-" + n, Name: n})
	}
	return c
}

func (c *fakeClient) Authenticate(_ context.Context, _ reporting.Credentials) (*reporting.Session, error) {
	if c.authErr != nil {
		return nil, c.authErr
	}
	return &reporting.Session{Token: "t", SiteID: "s"}, nil
}

func (c *fakeClient) FindItem(_ context.Context, _ *reporting.Session, name string) (reporting.Item, error) {
	if c.findErr != nil {
		return reporting.Item{}, c.findErr
	}
	return reporting.Item{ID: "wb", Name: name}, nil
}

func (c *fakeClient) ListChildren(context.Context, *reporting.Session, reporting.Item) ([]export.View, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.views, nil
}

func (c *fakeClient) Render(ctx context.Context, _ *reporting.Session, view export.View, _ export.Format, params export.Parameters) ([]byte, error) {
	c.mu.Lock()
	c.calls = append(c.calls, renderCall{view: view.Name, params: params.Map()})
	hook := c.onRender
	var err error
	if queue := c.renderErrs[view.Name]; len(queue) > 0 {
		err, c.renderErrs[view.Name] = queue[0], queue[1:]
	} else if e, ok := c.alwaysErr[view.Name]; ok {
		err = e
	}
	c.mu.Unlock()

	if hook != nil {
		hook(view)
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errhandling.ClassifyNetworkError(ctx.Err())
	}
	return testpdf.Build("BT /F1 12 Tf 72 700 Td (" + view.Name + ") Tj ET"), nil
}

func (c *fakeClient) Release(context.Context, *reporting.Session) error {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) renderCalls() []renderCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]renderCall(nil), c.calls...)
}

func (c *fakeClient) releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// memSource serves a fixed dataset.
type memSource struct {
	ds     *export.Dataset
	err    error
	closed bool
}

func (s *memSource) Columns(context.Context) ([]string, error) { return s.ds.Columns, s.err }

func (s *memSource) Read(context.Context) (*export.Dataset, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ds, nil
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}

func dataset(cols []string, rows ...[]string) *export.Dataset {
	ds := &export.Dataset{Columns: cols}
	for i, r := range rows {
		vals := make([]export.Value, len(r))
		for j, s := range r {
			vals[j] = export.TextValue(s)
		}
		ds.Rows = append(ds.Rows, export.NewRow(i, cols, vals))
	}
	return ds
}

// recordingSleep records waits without sleeping.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// progressRecorder keeps every update.
type progressRecorder struct {
	mu       sync.Mutex
	logs     []string
	percents []int
	summary  export.Summary
}

func (p *progressRecorder) OnLog(m string) {
	p.mu.Lock()
	p.logs = append(p.logs, m)
	p.mu.Unlock()
}

func (p *progressRecorder) OnProgress(v int) {
	p.mu.Lock()
	p.percents = append(p.percents, v)
	p.mu.Unlock()
}

func (p *progressRecorder) OnSummary(s export.Summary) {
	p.mu.Lock()
	p.summary = s
	p.mu.Unlock()
}
