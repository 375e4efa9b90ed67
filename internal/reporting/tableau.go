package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// Defaults for the Tableau client.
const (
	DefaultTimeout    = 180 * time.Second
	DefaultAPIVersion = "3.19"

	// serverinfo answers on any 2.4+ server without a session
	probeAPIVersion = "2.4"
	authHeader      = "X-Tableau-Auth"
	userAgent       = "viewexport/1.0"

	maxErrorBodySize  = 1 << 20
	maxRenderBodySize = 512 << 20
	lookupPageSize    = 1000
)

// TableauClient talks to the Tableau Server / Cloud REST API.
type TableauClient struct {
	http          *http.Client
	maxRenderSize int64
}

// Option configures a TableauClient.
type Option func(*TableauClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *TableauClient) { t.http = c }
}

// WithMaxRenderSize bounds the size of a rendered file. Larger renders fail
// with ErrResponseTooLarge.
func WithMaxRenderSize(n int64) Option {
	return func(t *TableauClient) { t.maxRenderSize = n }
}

// NewTableauClient creates a client. A zero timeout uses DefaultTimeout.
func NewTableauClient(timeout time.Duration, opts ...Option) *TableauClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &TableauClient{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRenderSize: maxRenderBodySize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NormalizeServerURL prepends https:// when no scheme is given and drops a
// trailing slash.
func NormalizeServerURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Summary string `json:"summary"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

type signInRequest struct {
	Credentials struct {
		TokenName   string `json:"personalAccessTokenName"`
		TokenSecret string `json:"personalAccessTokenSecret"`
		Site        struct {
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
	} `json:"credentials"`
}

type signInResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID         string `json:"id"`
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"credentials"`
}

type serverInfoResponse struct {
	ServerInfo struct {
		RestAPIVersion string `json:"restApiVersion"`
	} `json:"serverInfo"`
}

type workbooksResponse struct {
	Workbooks struct {
		Workbook []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"workbook"`
	} `json:"workbooks"`
}

type viewsResponse struct {
	Views struct {
		View []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Hidden bool   `json:"hidden"`
		} `json:"view"`
	} `json:"views"`
}

// Authenticate signs in with a personal access token.
func (t *TableauClient) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	base := NormalizeServerURL(creds.ServerURL)
	if base == "" {
		return nil, errhandling.NewValidationError(0, "server URL is empty", nil)
	}
	if creds.TokenName == "" || creds.TokenSecret == "" {
		return nil, errhandling.NewAuthenticationError(0, "personal access token name and secret are required", nil)
	}

	version := creds.APIVersion
	if version == "" {
		version = t.detectVersion(ctx, base)
	}

	var body signInRequest
	body.Credentials.TokenName = creds.TokenName
	body.Credentials.TokenSecret = creds.TokenSecret
	body.Credentials.Site.ContentURL = creds.Site

	var out signInResponse
	endpoint := fmt.Sprintf("%s/api/%s/auth/signin", base, version)
	if err := t.doJSON(ctx, http.MethodPost, endpoint, "", body, &out); err != nil {
		return nil, err
	}
	if out.Credentials.Token == "" {
		return nil, errhandling.NewAuthenticationError(0, "sign in returned no token", nil)
	}

	logger.Debug("signed in",
		slog.String("server", base),
		slog.String("site", creds.Site),
		slog.String("api_version", version),
	)
	return &Session{
		ServerURL:  base,
		APIVersion: version,
		Token:      out.Credentials.Token,
		SiteID:     out.Credentials.Site.ID,
		UserID:     out.Credentials.User.ID,
		SignedInAt: time.Now(),
	}, nil
}

func (t *TableauClient) detectVersion(ctx context.Context, base string) string {
	var info serverInfoResponse
	endpoint := fmt.Sprintf("%s/api/%s/serverinfo", base, probeAPIVersion)
	if err := t.doJSON(ctx, http.MethodGet, endpoint, "", nil, &info); err != nil || info.ServerInfo.RestAPIVersion == "" {
		logger.Debug("server version detection failed, using default",
			slog.String("default", DefaultAPIVersion),
		)
		return DefaultAPIVersion
	}
	return info.ServerInfo.RestAPIVersion
}

func (s *Session) siteURL(format string, args ...interface{}) string {
	return fmt.Sprintf("%s/api/%s/sites/%s/", s.ServerURL, s.APIVersion, s.SiteID) + fmt.Sprintf(format, args...)
}

// FindItem looks a workbook up by exact name, then case-insensitively among
// the first 1000 workbooks of the site.
func (t *TableauClient) FindItem(ctx context.Context, s *Session, name string) (Item, error) {
	q := url.Values{}
	q.Set("filter", "name:eq:"+name)
	var exact workbooksResponse
	if err := t.doJSON(ctx, http.MethodGet, s.siteURL("workbooks?%s", q.Encode()), s.Token, nil, &exact); err != nil {
		return Item{}, err
	}
	for _, wb := range exact.Workbooks.Workbook {
		if wb.Name == name {
			return Item{ID: wb.ID, Name: wb.Name}, nil
		}
	}

	var all workbooksResponse
	if err := t.doJSON(ctx, http.MethodGet, s.siteURL("workbooks?pageSize=%d", lookupPageSize), s.Token, nil, &all); err != nil {
		return Item{}, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, wb := range all.Workbooks.Workbook {
		if strings.ToLower(strings.TrimSpace(wb.Name)) == want {
			return Item{ID: wb.ID, Name: wb.Name}, nil
		}
	}
	return Item{}, errhandling.NewNotFoundError(fmt.Sprintf("workbook %q not found on site", name), ErrItemNotFound)
}

// ListChildren lists the workbook's views, skipping hidden ones.
func (t *TableauClient) ListChildren(ctx context.Context, s *Session, item Item) ([]export.View, error) {
	var out viewsResponse
	endpoint := s.siteURL("workbooks/%s/views?pageSize=%d", url.PathEscape(item.ID), lookupPageSize)
	if err := t.doJSON(ctx, http.MethodGet, endpoint, s.Token, nil, &out); err != nil {
		return nil, err
	}
	views := make([]export.View, 0, len(out.Views.View))
	for _, v := range out.Views.View {
		if v.Hidden {
			continue
		}
		views = append(views, export.View{ID: v.ID, Name: v.Name})
	}
	return views, nil
}

// Render downloads a view as PDF or PNG. Every parameter is sent as a view
// filter.
func (t *TableauClient) Render(ctx context.Context, s *Session, view export.View, format export.Format, params export.Parameters) ([]byte, error) {
	q := url.Values{}
	var path string
	switch format {
	case export.FormatImage:
		path = "image"
		q.Set("resolution", "high")
	default:
		path = "pdf"
		q.Set("type", "unspecified")
	}
	q.Set("maxAge", "0")
	for _, p := range params {
		q.Set("vf_"+p.Name, p.Value)
	}

	endpoint := s.siteURL("views/%s/%s?%s", url.PathEscape(view.ID), path, q.Encode())
	data, err := t.do(ctx, http.MethodGet, endpoint, s.Token, nil, t.maxRenderSize)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errhandling.NewServerError(0, fmt.Sprintf("empty %s returned for view %q", path, view.Name), nil)
	}
	return data, nil
}

// Release signs out. Calling it with a nil session is a no-op.
func (t *TableauClient) Release(ctx context.Context, s *Session) error {
	if s == nil || s.Token == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/%s/auth/signout", s.ServerURL, s.APIVersion)
	_, err := t.do(ctx, http.MethodPost, endpoint, s.Token, nil, maxErrorBodySize)
	if err == nil {
		s.Token = ""
	}
	return err
}

func (t *TableauClient) doJSON(ctx context.Context, method, endpoint, token string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}
	data, err := t.do(ctx, method, endpoint, token, body, maxErrorBodySize*8)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errhandling.NewServerError(0, "decoding response from "+redact(endpoint), err)
	}
	return nil
}

func (t *TableauClient) do(ctx context.Context, method, endpoint, token string, body []byte, limit int64) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errhandling.NewValidationError(0, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("failed to close response body", slog.String("error", closeErr.Error()))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		msg := errorMessage(resp.StatusCode, raw)
		logger.Debug("tableau request failed",
			slog.String("method", method),
			slog.String("endpoint", redact(endpoint)),
			slog.Int("status_code", resp.StatusCode),
			slog.String("message", msg),
		)
		return nil, errhandling.ClassifyHTTPStatus(resp.StatusCode, msg)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}
	if int64(len(data)) > limit {
		return nil, &errhandling.ClassifiedError{
			Category:    errhandling.CategoryServer,
			Retryable:   false,
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("response from %s exceeds %d bytes", redact(endpoint), limit),
			OriginalErr: ErrResponseTooLarge,
		}
	}
	return data, nil
}

// errorMessage formats Tableau's error document, falling back to the raw body.
func errorMessage(status int, raw []byte) string {
	var e apiError
	if json.Unmarshal(raw, &e) == nil && (e.Error.Summary != "" || e.Error.Code != "") {
		msg := e.Error.Summary
		if e.Error.Detail != "" {
			msg += ": " + e.Error.Detail
		}
		if e.Error.Code != "" {
			msg += " (" + e.Error.Code + ")"
		}
		return msg
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}

// redact drops the query string, which may carry filter values.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
