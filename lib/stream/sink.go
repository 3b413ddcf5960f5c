// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/terragon-labs/orchestra/lib/clock"
)

// Event is one server-sent event payload. Type is "progress",
// "complete", or "error". Timestamp is the server-side send time in
// RFC 3339 UTC.
type Event struct {
	Type      string          `json:"type"`
	Step      string          `json:"step,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	// Writer receives the SSE frames. If it also implements
	// http.Flusher, every frame is flushed immediately. Required.
	Writer io.Writer

	// Clock supplies event timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Sink serializes events onto one SSE response stream. All methods are
// safe for concurrent use, though operations are expected to write from
// a single goroutine.
//
// A write failure (the client went away) closes the sink; subsequent
// sends are silent no-ops. Exactly one terminal event (complete or
// error) is ever written; later terminal sends are ignored.
type Sink struct {
	mu       sync.Mutex
	writer   io.Writer
	flusher  http.Flusher
	clock    clock.Clock
	logger   *slog.Logger
	closed   bool
	terminal bool
}

// NewSink creates a Sink writing to config.Writer.
func NewSink(config SinkConfig) (*Sink, error) {
	if config.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flusher, _ := config.Writer.(http.Flusher)
	return &Sink{
		writer:  config.Writer,
		flusher: flusher,
		clock:   clk,
		logger:  logger,
	}, nil
}

// SendProgress emits a progress event for the named step. Failures are
// absorbed: a progress event that cannot be delivered must not abort
// the operation producing it.
func (sink *Sink) SendProgress(step, message string) {
	sink.send(Event{Type: "progress", Step: step, Message: message})
}

// SendComplete emits the terminal complete event carrying payload.
// No-op if a terminal event was already sent or the sink is closed.
func (sink *Sink) SendComplete(payload any) {
	result, err := json.Marshal(payload)
	if err != nil {
		sink.logger.Error("encoding completion payload", "error", err)
		sink.SendError("internal error encoding result")
		return
	}
	sink.sendTerminal(Event{Type: "complete", Result: result})
}

// SendError emits the terminal error event. No-op if a terminal event
// was already sent or the sink is closed.
func (sink *Sink) SendError(message string) {
	sink.sendTerminal(Event{Type: "error", Message: message})
}

// Abort closes the sink without writing anything. Used when the client
// disconnects: nothing further can be delivered, and no error event
// should be fabricated for a reader that is gone.
func (sink *Sink) Abort() {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.closed = true
}

// Closed reports whether the sink no longer accepts events.
func (sink *Sink) Closed() bool {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.closed
}

func (sink *Sink) send(event Event) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed || sink.terminal {
		return
	}
	sink.writeLocked(event)
}

func (sink *Sink) sendTerminal(event Event) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed || sink.terminal {
		return
	}
	sink.terminal = true
	sink.writeLocked(event)
}

func (sink *Sink) writeLocked(event Event) {
	event.Timestamp = sink.clock.Now().UTC().Format(time.RFC3339)
	encoded, err := json.Marshal(event)
	if err != nil {
		sink.logger.Error("encoding stream event", "type", event.Type, "error", err)
		return
	}
	if _, err := fmt.Fprintf(sink.writer, "data: %s\n\n", encoded); err != nil {
		sink.closed = true
		sink.logger.Warn("stream write failed, closing sink", "error", err)
		return
	}
	if sink.flusher != nil {
		sink.flusher.Flush()
	}
}
