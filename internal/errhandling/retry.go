package errhandling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default retry configuration values
const (
	DefaultMaxAttempts = 3
	DefaultDelayMs     = 5000
	MaxRetryAttempts   = 10
)

// RetryConfig holds the retry policy applied to one export job.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the initial one included.
	// Default: 3, Max: 10
	MaxAttempts int

	// DelayMs is the base delay. The wait before retry n is DelayMs * n.
	// Default: 5000
	DelayMs int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		DelayMs:     DefaultDelayMs,
	}
}

// Validate validates the retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("maxAttempts must be >= 1")
	}
	if c.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("maxAttempts must be <= %d", MaxRetryAttempts)
	}
	if c.DelayMs < 0 {
		return errors.New("delayMs must be >= 0")
	}
	return nil
}

// CalculateDelay returns the linear backoff wait before the given retry
// (1-based attempt that just failed).
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(c.DelayMs) * time.Duration(attempt) * time.Millisecond
}

// ShouldRetry reports whether another attempt follows a failed attempt.
func (c RetryConfig) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if attempt >= c.MaxAttempts {
		return false
	}
	return IsRetryable(err)
}

// ParseRetryConfig parses retry configuration from a map.
// Missing values are filled with defaults.
func ParseRetryConfig(m map[string]interface{}) RetryConfig {
	config := DefaultRetryConfig()
	if m == nil {
		return config
	}
	if maxAttempts, ok := getInt(m, "maxAttempts"); ok {
		config.MaxAttempts = maxAttempts
	}
	if delayMs, ok := getInt(m, "delayMs"); ok {
		config.DelayMs = delayMs
	}
	return config
}

// getInt extracts an int value from a map, handling float64 (JSON) and int types.
func getInt(m map[string]interface{}, key string) (int, bool) {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case float64:
			return int(val), true
		case int:
			return val, true
		case int64:
			return int(val), true
		}
	}
	return 0, false
}

// ============================
// Retry Executor
// ============================

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryFunc is one attempt. attempt is 1-based.
type RetryFunc func(ctx context.Context, attempt int) error

// RetryInfo contains information about retry attempts.
type RetryInfo struct {
	// TotalAttempts is the total number of attempts made.
	TotalAttempts int

	// SuccessfulAttempt is the attempt number that succeeded (0 if failed).
	SuccessfulAttempt int

	// RetryCount is the number of retries (TotalAttempts - 1).
	RetryCount int

	// TotalDuration is the time spent including waits.
	TotalDuration time.Duration

	// Delays is the list of waits between attempts.
	Delays []time.Duration

	// Errors is the list of errors encountered, one per failed attempt.
	Errors []error
}

// RetryExecutor executes functions with retry logic.
type RetryExecutor struct {
	config    RetryConfig
	sleep     Sleeper
	now       func() time.Time
	retryInfo RetryInfo
}

// NewRetryExecutor creates a new retry executor. A nil sleeper uses ContextSleep.
func NewRetryExecutor(config RetryConfig, sleep Sleeper) *RetryExecutor {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = ContextSleep
	}
	return &RetryExecutor{
		config: config,
		sleep:  sleep,
		now:    time.Now,
	}
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Cancellation is checked before every attempt and
// before and after every wait.
func (e *RetryExecutor) Execute(ctx context.Context, fn RetryFunc) error {
	return e.ExecuteWithCallback(ctx, fn, nil)
}

// ExecuteWithCallback executes fn with retry and calls callback after each
// attempt with the attempt number (1-based), its error (nil on success) and
// the wait before the next attempt (0 when none follows).
func (e *RetryExecutor) ExecuteWithCallback(
	ctx context.Context,
	fn RetryFunc,
	callback func(attempt int, err error, nextDelay time.Duration),
) error {
	startTime := e.now()
	e.retryInfo = RetryInfo{
		Delays: make([]time.Duration, 0),
		Errors: make([]error, 0),
	}
	finish := func(err error) error {
		e.retryInfo.RetryCount = e.retryInfo.TotalAttempts - 1
		if e.retryInfo.RetryCount < 0 {
			e.retryInfo.RetryCount = 0
		}
		e.retryInfo.TotalDuration = e.now().Sub(startTime)
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(ClassifyNetworkError(err))
		}

		e.retryInfo.TotalAttempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			e.retryInfo.SuccessfulAttempt = attempt
			if callback != nil {
				callback(attempt, nil, 0)
			}
			return finish(nil)
		}

		lastErr = err
		e.retryInfo.Errors = append(e.retryInfo.Errors, err)

		var delay time.Duration
		retry := e.config.ShouldRetry(attempt, err)
		if retry {
			delay = e.config.CalculateDelay(attempt)
			e.retryInfo.Delays = append(e.retryInfo.Delays, delay)
		}
		if callback != nil {
			callback(attempt, err, delay)
		}
		if !retry {
			return finish(err)
		}

		if err := ctx.Err(); err != nil {
			return finish(ClassifyNetworkError(err))
		}
		if err := e.sleep(ctx, delay); err != nil {
			return finish(ClassifyNetworkError(err))
		}
		if err := ctx.Err(); err != nil {
			return finish(ClassifyNetworkError(err))
		}
	}

	return finish(lastErr)
}

// GetRetryInfo returns information about the last execution.
func (e *RetryExecutor) GetRetryInfo() RetryInfo {
	return e.retryInfo
}
