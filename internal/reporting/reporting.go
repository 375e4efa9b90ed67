// Package reporting defines the reporting service client used by the export
// runner and a Tableau REST implementation of it.
package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/pkg/export"
)

// ErrItemNotFound is wrapped by FindItem when no workbook has the name.
var ErrItemNotFound = errors.New("workbook not found")

// ErrResponseTooLarge is wrapped when a response body exceeds its limit.
var ErrResponseTooLarge = errors.New("response too large")

// Credentials identify a personal access token on one site.
type Credentials struct {
	ServerURL   string
	Site        string
	TokenName   string
	TokenSecret string
	// APIVersion is detected from the server when empty.
	APIVersion string
}

// CredentialsFromConfig extracts the credentials of a server configuration.
func CredentialsFromConfig(cfg export.ServerConfig) Credentials {
	return Credentials{
		ServerURL:   cfg.URL,
		Site:        cfg.Site,
		TokenName:   cfg.TokenName,
		TokenSecret: cfg.TokenSecret,
		APIVersion:  cfg.APIVersion,
	}
}

// Session is an authenticated connection to one site.
type Session struct {
	ServerURL  string
	APIVersion string
	Token      string
	SiteID     string
	UserID     string
	SignedInAt time.Time
}

// Item is a workbook handle.
type Item struct {
	ID   string
	Name string
}

// Client is the remote reporting service. Errors are classified with
// errhandling so callers can tell transient, permission and not-found
// failures apart.
type Client interface {
	Authenticate(ctx context.Context, creds Credentials) (*Session, error)
	FindItem(ctx context.Context, s *Session, name string) (Item, error)
	// ListChildren returns the visible views of a workbook in server order.
	ListChildren(ctx context.Context, s *Session, item Item) ([]export.View, error)
	Render(ctx context.Context, s *Session, view export.View, format export.Format, params export.Parameters) ([]byte, error)
	Release(ctx context.Context, s *Session) error
}

// TestConnection signs in and out again.
func TestConnection(ctx context.Context, c Client, creds Credentials) error {
	s, err := c.Authenticate(ctx, creds)
	if err != nil {
		return err
	}
	if err := c.Release(ctx, s); err != nil {
		logger.Warn("sign out failed after connection test", "error", err.Error())
	}
	return nil
}

// ListViews returns the sorted names of a workbook's visible views.
func ListViews(ctx context.Context, c Client, creds Credentials, workbook string) ([]string, error) {
	s, err := c.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.Release(ctx, s); err != nil {
			logger.Warn("sign out failed", "error", err.Error())
		}
	}()

	item, err := c.FindItem(ctx, s, workbook)
	if err != nil {
		return nil, err
	}
	views, err := c.ListChildren(ctx, s, item)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = v.Name
	}
	sort.Strings(names)
	return names, nil
}
