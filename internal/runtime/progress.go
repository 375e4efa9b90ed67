package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCancelled is the cause attached to contexts cancelled through a CancelToken.
var ErrCancelled = errors.New("export cancelled")

// ProgressSink receives user-visible run updates. Implementations must not
// block the worker.
type ProgressSink interface {
	OnLog(message string)
	OnProgress(percent int)
}

// NopSink discards every update.
type NopSink struct{}

func (NopSink) OnLog(string)   {}
func (NopSink) OnProgress(int) {}

// EventKind tells log lines and progress updates apart.
type EventKind int

const (
	EventLog EventKind = iota
	EventProgress
)

// Event is one update delivered through a ChannelSink.
type Event struct {
	Kind    EventKind
	Message string
	Percent int
	Time    time.Time
}

// ChannelSink forwards updates to a buffered channel. When the buffer is full
// the update is dropped and counted.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped returns the number of updates lost to a full buffer.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

func (s *ChannelSink) OnLog(message string) {
	s.send(Event{Kind: EventLog, Message: message, Time: time.Now()})
}

func (s *ChannelSink) OnProgress(percent int) {
	s.send(Event{Kind: EventProgress, Percent: percent, Time: time.Now()})
}

func (s *ChannelSink) send(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Close closes the channel. Later updates are discarded.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// DefaultLogLines is the number of lines a LogBuffer keeps.
const DefaultLogLines = 50

// LogBuffer keeps the latest progress and the last lines logged, each
// prefixed with its wall-clock time.
type LogBuffer struct {
	mu       sync.Mutex
	max      int
	lines    []string
	progress int
	now      func() time.Time
}

// NewLogBuffer returns a buffer keeping max lines (DefaultLogLines when max < 1).
func NewLogBuffer(max int) *LogBuffer {
	if max < 1 {
		max = DefaultLogLines
	}
	return &LogBuffer{max: max, now: time.Now}
}

func (b *LogBuffer) OnLog(message string) {
	line := "[" + b.now().Format("15:04:05") + "] " + message
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
	}
	b.mu.Unlock()
}

func (b *LogBuffer) OnProgress(percent int) {
	b.mu.Lock()
	b.progress = percent
	b.mu.Unlock()
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Text returns the buffered lines joined by newlines.
func (b *LogBuffer) Text() string {
	return strings.Join(b.Lines(), "\n")
}

// Progress returns the last reported percentage.
func (b *LogBuffer) Progress() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// MultiSink fans updates out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) OnLog(message string) {
	for _, s := range m {
		if s != nil {
			s.OnLog(message)
		}
	}
}

func (m MultiSink) OnProgress(percent int) {
	for _, s := range m {
		if s != nil {
			s.OnProgress(percent)
		}
	}
}

// CancelToken is a one-way flag set from outside the worker.
type CancelToken struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.set.Store(true)
		close(t.done)
	})
}

// IsSet reports whether Cancel was called.
func (t *CancelToken) IsSet() bool { return t.set.Load() }

// Done is closed once the token is set.
func (t *CancelToken) Done() <-chan struct{} { return t.done }

// Context derives a context that is cancelled with ErrCancelled when the
// token is set. The returned stop function releases it.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-t.done:
			cancel(ErrCancelled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}
