package database

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories for database operations
const (
	CategoryConnection = "connection"
	CategoryQuery      = "query"
	CategoryNotFound   = "not_found"
	CategoryTimeout    = "timeout"
)

// DatabaseError represents a categorized database error with context.
//
//nolint:revive // DatabaseError is a clear, descriptive name that doesn't stutter in practice
type DatabaseError struct {
	Category    string // connection, query, not_found, timeout
	Operation   string // select, ping, connect...
	Message     string // User-friendly error message
	Query       string // The query that caused the error, truncated
	OriginalErr error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database %s error: %s", e.Category, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("database %s error in %s: %s", e.Category, e.Operation, e.Message)
	}
	if e.OriginalErr != nil {
		msg += fmt.Sprintf(" (original: %v)", e.OriginalErr)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, originalErr error) *DatabaseError {
	return &DatabaseError{Category: CategoryConnection, Operation: "connect", Message: message, OriginalErr: originalErr}
}

// ClassifyDatabaseError classifies a raw driver error.
func ClassifyDatabaseError(err error, driver, operation, query string) *DatabaseError {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}

	lower := strings.ToLower(err.Error())
	out := &DatabaseError{Operation: operation, Query: truncateQuery(query), OriginalErr: err}
	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		out.Category, out.Message = CategoryTimeout, "operation timed out"
	case containsAny(lower, "connection refused", "connection reset", "no such host",
		"network is unreachable", "broken pipe", "bad connection", "dial tcp",
		"password authentication failed", "unable to open database"):
		out.Category, out.Message = CategoryConnection, "connection failed or lost"
	case isMissingTable(lower, driver):
		out.Category, out.Message = CategoryNotFound, "table does not exist"
	default:
		out.Category, out.Message = CategoryQuery, "query failed"
	}
	return out
}

func isMissingTable(errMsg, driver string) bool {
	if strings.Contains(errMsg, "no such table") {
		return true
	}
	return driver == DriverPostgres && (strings.Contains(errMsg, "42p01") ||
		(strings.Contains(errMsg, "relation") && strings.Contains(errMsg, "does not exist")))
}

// IsNotFound reports whether err is a missing-table error.
func IsNotFound(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr) && dbErr.Category == CategoryNotFound
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "... (truncated)"
	}
	return query
}
