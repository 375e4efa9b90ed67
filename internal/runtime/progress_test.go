package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLogBuffer(t *testing.T) {
	b := NewLogBuffer(3)
	b.now = func() time.Time { return time.Date(2024, 5, 1, 9, 4, 7, 0, time.UTC) }

	for i := 1; i <= 5; i++ {
		b.OnLog(fmt.Sprintf("line %d", i))
	}
	b.OnProgress(42)

	got := b.Lines()
	want := []string{"[09:04:07] line 3", "[09:04:07] line 4", "[09:04:07] line 5"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
	if b.Progress() != 42 {
		t.Errorf("Progress() = %d, want 42", b.Progress())
	}
	if !strings.HasSuffix(b.Text(), "line 5") {
		t.Errorf("Text() = %q", b.Text())
	}
}

func TestLogBuffer_DefaultSize(t *testing.T) {
	b := NewLogBuffer(0)
	for i := 0; i < DefaultLogLines+10; i++ {
		b.OnLog("x")
	}
	if n := len(b.Lines()); n != DefaultLogLines {
		t.Errorf("len(Lines()) = %d, want %d", n, DefaultLogLines)
	}
}

func TestChannelSink_NeverBlocks(t *testing.T) {
	s := NewChannelSink(2)
	s.OnLog("a")
	s.OnProgress(10)
	s.OnLog("dropped")

	if s.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", s.Dropped())
	}
	ev := <-s.Events()
	if ev.Kind != EventLog || ev.Message != "a" {
		t.Errorf("first event = %+v", ev)
	}
	ev = <-s.Events()
	if ev.Kind != EventProgress || ev.Percent != 10 {
		t.Errorf("second event = %+v", ev)
	}

	s.Close()
	s.Close()
	s.OnLog("after close")
	if _, ok := <-s.Events(); ok {
		t.Error("channel should be closed and drained")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := NewLogBuffer(5), NewLogBuffer(5)
	m := MultiSink{a, nil, b}
	m.OnLog("hello")
	m.OnProgress(7)
	for _, buf := range []*LogBuffer{a, b} {
		if len(buf.Lines()) != 1 || buf.Progress() != 7 {
			t.Errorf("sink got lines=%v progress=%d", buf.Lines(), buf.Progress())
		}
	}
}

func TestCancelToken(t *testing.T) {
	tok := NewCancelToken()
	ctx, stop := tok.Context(context.Background())
	defer stop()

	if tok.IsSet() {
		t.Fatal("new token is set")
	}
	tok.Cancel()
	tok.Cancel()
	if !tok.IsSet() {
		t.Fatal("token not set after Cancel")
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	if !errors.Is(context.Cause(ctx), ErrCancelled) {
		t.Errorf("Cause = %v, want ErrCancelled", context.Cause(ctx))
	}
}

func TestCancelToken_StopReleases(t *testing.T) {
	tok := NewCancelToken()
	ctx, stop := tok.Context(context.Background())
	stop()
	if ctx.Err() == nil {
		t.Fatal("stop should cancel the derived context")
	}
	if tok.IsSet() {
		t.Error("stop must not set the token")
	}
}
