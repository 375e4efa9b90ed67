package errhandling

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	waits  []time.Duration
	cancel context.CancelFunc
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.cancel != nil {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

func TestRetryConfig_Defaults(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.DelayMs != 5000 {
		t.Errorf("DelayMs = %d, want 5000", config.DelayMs)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		wantErr bool
	}{
		{"default", DefaultRetryConfig(), false},
		{"single attempt", RetryConfig{MaxAttempts: 1}, false},
		{"zero attempts", RetryConfig{MaxAttempts: 0}, true},
		{"too many attempts", RetryConfig{MaxAttempts: 11}, true},
		{"negative delay", RetryConfig{MaxAttempts: 3, DelayMs: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryConfig_CalculateDelay_Linear(t *testing.T) {
	config := RetryConfig{MaxAttempts: 5, DelayMs: 3000}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second}
	for i, w := range want {
		if got := config.CalculateDelay(i + 1); got != w {
			t.Errorf("CalculateDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestParseRetryConfig(t *testing.T) {
	got := ParseRetryConfig(map[string]interface{}{"maxAttempts": float64(5), "delayMs": 100})
	if got.MaxAttempts != 5 || got.DelayMs != 100 {
		t.Errorf("ParseRetryConfig = %+v, want {5 100}", got)
	}
	if got := ParseRetryConfig(nil); got != DefaultRetryConfig() {
		t.Errorf("ParseRetryConfig(nil) = %+v, want defaults", got)
	}
}

func TestRetryExecutor_TransientTwiceThenSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 1000}, sleeper.sleep)

	calls := 0
	err := executor.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return NewServerError(503, "busy", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	info := executor.GetRetryInfo()
	if info.TotalAttempts != 3 || calls != 3 {
		t.Errorf("TotalAttempts = %d (calls %d), want 3", info.TotalAttempts, calls)
	}
	if info.SuccessfulAttempt != 3 {
		t.Errorf("SuccessfulAttempt = %d, want 3", info.SuccessfulAttempt)
	}
	if info.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", info.RetryCount)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", sleeper.waits, want)
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}

func TestRetryExecutor_PermissionDeniedSingleAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	executor := NewRetryExecutor(DefaultRetryConfig(), sleeper.sleep)

	err := executor.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		return ClassifyHTTPStatus(403, "")
	})
	if !IsPermissionDenied(err) {
		t.Fatalf("Execute() error = %v, want permission_denied", err)
	}
	if got := executor.GetRetryInfo().TotalAttempts; got != 1 {
		t.Errorf("TotalAttempts = %d, want 1", got)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("waits = %v, want none", sleeper.waits)
	}
}

func TestRetryExecutor_MaxAttemptsExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 10}, sleeper.sleep)
	boom := errors.New("connection reset")

	err := executor.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}
	info := executor.GetRetryInfo()
	if info.TotalAttempts != 3 || len(info.Errors) != 3 {
		t.Errorf("TotalAttempts = %d, Errors = %d, want 3 and 3", info.TotalAttempts, len(info.Errors))
	}
	if len(sleeper.waits) != 2 {
		t.Errorf("waits = %d, want 2", len(sleeper.waits))
	}
}

func TestRetryExecutor_CanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &recordingSleeper{cancel: cancel}
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 10}, sleeper.sleep)

	calls := 0
	err := executor.Execute(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return NewNetworkError("timeout", nil)
	})
	if !IsCanceled(err) {
		t.Fatalf("Execute() error = %v, want canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExecutor_CanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executor := NewRetryExecutor(DefaultRetryConfig(), (&recordingSleeper{}).sleep)

	called := false
	err := executor.Execute(ctx, func(ctx context.Context, attempt int) error {
		called = true
		return nil
	})
	if !IsCanceled(err) || called {
		t.Errorf("Execute() = %v, called = %v; want canceled without attempt", err, called)
	}
}

func TestRetryExecutor_ExecuteWithCallback(t *testing.T) {
	executor := NewRetryExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 500}, (&recordingSleeper{}).sleep)

	type call struct {
		attempt int
		failed  bool
		delay   time.Duration
	}
	var calls []call
	err := executor.ExecuteWithCallback(context.Background(),
		func(ctx context.Context, attempt int) error {
			if attempt == 1 {
				return NewServerError(500, "oops", nil)
			}
			return nil
		},
		func(attempt int, err error, nextDelay time.Duration) {
			calls = append(calls, call{attempt, err != nil, nextDelay})
		})
	if err != nil {
		t.Fatalf("ExecuteWithCallback() error = %v", err)
	}
	want := []call{{1, true, 500 * time.Millisecond}, {2, false, 0}}
	if len(calls) != len(want) {
		t.Fatalf("callbacks = %+v, want %+v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("callback[%d] = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestContextSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ContextSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("ContextSleep(canceled) = %v, want context.Canceled", err)
	}
	if err := ContextSleep(context.Background(), 0); err != nil {
		t.Errorf("ContextSleep(0) = %v, want nil", err)
	}
}
