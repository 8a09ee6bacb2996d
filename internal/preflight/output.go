package preflight

import (
	"fmt"
	"strings"
	"time"
)

const (
	repeatFlushInterval = 5 * time.Second
	tailSize            = 40
)

// outputAggregator collapses consecutive duplicate lines and keeps a tail
// of what it emitted, used as failure text when a build or smoke run fails.
type outputAggregator struct {
	emit     func(string)
	last     string
	repeats  int
	lastEmit time.Time
	maxDelay time.Duration
	buffer   []string
	bufSize  int
	now      func() time.Time
}

func newOutputAggregator(emit func(string)) *outputAggregator {
	return &outputAggregator{
		emit:     emit,
		maxDelay: repeatFlushInterval,
		bufSize:  tailSize,
		now:      time.Now,
	}
}

func (a *outputAggregator) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	now := a.now()
	if line == a.last {
		a.repeats++
		if a.maxDelay > 0 && now.Sub(a.lastEmit) >= a.maxDelay {
			a.flushRepeats(now)
		}
		return
	}
	a.flushRepeats(now)
	a.last = line
	a.emitLine(line, now)
}

func (a *outputAggregator) Flush() {
	a.flushRepeats(a.now())
}

func (a *outputAggregator) flushRepeats(now time.Time) {
	if a.repeats == 0 || a.last == "" {
		return
	}
	msg := fmt.Sprintf("%s (repeated %d more times)", a.last, a.repeats)
	a.repeats = 0
	a.emitLine(msg, now)
}

func (a *outputAggregator) emitLine(line string, now time.Time) {
	if a.emit != nil {
		a.emit(line)
	}
	if len(a.buffer) < a.bufSize {
		a.buffer = append(a.buffer, line)
	} else {
		a.buffer = append(a.buffer[1:], line)
	}
	a.lastEmit = now
}

// Tail returns the retained lines joined by newlines.
func (a *outputAggregator) Tail() string {
	return strings.Join(a.buffer, "\n")
}
