package logstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Levels used for entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const timeLayout = "2006-01-02 15:04:05"

// Entry is one timestamped line of a run log.
type Entry struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Format renders the entry as a human-readable log line.
func (e Entry) Format() string {
	return e.Time.Format(timeLayout) + "  " + e.Message
}

// Stream is an append-only, ordered run log. Entries are never removed or
// reordered; subscribers see the full history followed by live entries.
type Stream struct {
	mu      sync.Mutex
	entries []Entry
	notify  chan struct{}
	closed  bool
	now     func() time.Time
	log     *slog.Logger
}

// New creates an open stream. Appended entries are mirrored to logger when
// it is non-nil.
func New(logger *slog.Logger) *Stream {
	return &Stream{notify: make(chan struct{}), now: time.Now, log: logger}
}

// Append adds an entry and wakes subscribers. Appends after Close are dropped.
func (s *Stream) Append(level, message string) Entry {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}
	}
	e := Entry{Seq: len(s.entries), Time: s.now().UTC(), Level: level, Message: message}
	s.entries = append(s.entries, e)
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()

	if s.log != nil {
		switch level {
		case LevelError:
			s.log.Error(message, "seq", e.Seq)
		case LevelWarn:
			s.log.Warn(message, "seq", e.Seq)
		default:
			s.log.Info(message, "seq", e.Seq)
		}
	}
	return e
}

// Infof appends an info entry.
func (s *Stream) Infof(format string, args ...any) {
	s.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf appends a warning entry.
func (s *Stream) Warnf(format string, args ...any) {
	s.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf appends an error entry.
func (s *Stream) Errorf(format string, args ...any) {
	s.Append(LevelError, fmt.Sprintf(format, args...))
}

// Close marks the stream complete. Subscribers drain and then stop.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Entries returns a snapshot of every entry so far.
func (s *Stream) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lines returns every entry formatted.
func (s *Stream) Lines() []string {
	entries := s.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Format()
	}
	return out
}

// Subscribe delivers every entry from the first one onwards. The channel is
// closed once the stream is closed and drained, or when ctx ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Entry {
	out := make(chan Entry, 16)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.Lock()
			pending := append([]Entry(nil), s.entries[next:]...)
			wait := s.notify
			closed := s.closed
			s.mu.Unlock()

			for _, e := range pending {
				select {
				case out <- e:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
