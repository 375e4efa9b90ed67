package cli

import (
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/canectors/viewexport/internal/logger"
)

// ProgressBar is the part of a progress bar the sink drives.
type ProgressBar interface {
	Set(num int) error
	Describe(description string)
	Close() error
}

// NewProgressBar returns a 0..100 bar drawn on w.
func NewProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressSink draws run progress on a bar and forwards each user-facing
// message to the logger, so messages survive in the log file.
type ProgressSink struct {
	mu  sync.Mutex
	bar ProgressBar
	max int
}

// NewProgressSink wraps bar. A nil bar only forwards messages.
func NewProgressSink(bar ProgressBar) *ProgressSink {
	return &ProgressSink{bar: bar}
}

func (s *ProgressSink) OnLog(message string) {
	logger.Info(message)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		s.bar.Describe(message)
	}
}

// OnProgress moves the bar forward. Values below the current position
// are ignored.
func (s *ProgressSink) OnProgress(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil || percent <= s.max {
		return
	}
	if percent > 100 {
		percent = 100
	}
	s.max = percent
	_ = s.bar.Set(percent)
}

// Close removes the bar from the terminal.
func (s *ProgressSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		return nil
	}
	return s.bar.Close()
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
