// Package ws delivers run logs to websocket and SSE subscribers.
package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/logstream"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Heartbeater is implemented by subscribers that need keep-alive frames.
type Heartbeater interface {
	Heartbeat() error
}

// Frame is the JSON payload sent for each log entry.
type Frame struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Line    string    `json:"line"`
}

// NewFrame converts a log entry.
func NewFrame(e logstream.Entry) Frame {
	return Frame{Seq: e.Seq, Time: e.Time, Level: e.Level, Message: e.Message, Line: e.Format()}
}

// Relay forwards stream entries to sub until the stream closes, ctx ends or
// a send fails. Subscribers that implement Heartbeater receive a ping every
// heartbeat interval while the stream is idle.
func Relay(ctx context.Context, stream *logstream.Stream, sub Subscriber, heartbeat time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := stream.Subscribe(ctx)

	var tick <-chan time.Time
	hb, beats := sub.(Heartbeater)
	if beats && heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return ctx.Err()
			}
			payload, err := json.Marshal(NewFrame(e))
			if err != nil {
				return err
			}
			if err := sub.Send(payload); err != nil {
				return err
			}
		case <-tick:
			if err := hb.Heartbeat(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
