// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Body is the long-running work an Operation drives. It reports
// intermediate progress through the sink and returns the completion
// payload or an error.
type Body func(ctx context.Context, sink *Sink) (any, error)

// OperationConfig configures an Operation.
type OperationConfig struct {
	// Sink receives the operation's events. Required.
	Sink *Sink

	// Cleanup releases resources the body acquired (typically the
	// sandbox). It runs after the body returns on every exit path;
	// on client disconnect it additionally runs right away, before
	// the body has unwound, so a resource already in hand is released
	// promptly. Cleanup must therefore tolerate repeat invocation.
	// Optional.
	//
	// The context passed to Cleanup is detached from cancellation so
	// teardown proceeds even after the client went away.
	Cleanup func(ctx context.Context)

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Operation runs a Body against a Sink in its own goroutine. The
// caller holds the response side and blocks on Done until the body
// finishes, keeping the underlying response writer valid.
type Operation struct {
	id      string
	sink    *Sink
	cleanup func(ctx context.Context)
	logger  *slog.Logger

	done chan struct{}
}

// Start launches body in a new goroutine and returns immediately.
//
// The event contract: progress events while the body runs, then
// exactly one terminal event (complete on success, error on failure).
// If ctx is cancelled (the client disconnected) the sink is aborted
// so no further events are written, the body's eventual return is
// discarded, and cleanup still runs once the body has unwound.
func Start(ctx context.Context, config OperationConfig, body Body) (*Operation, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	operation := &Operation{
		id:      uuid.NewString(),
		sink:    config.Sink,
		cleanup: config.Cleanup,
		done:    make(chan struct{}),
	}
	operation.logger = logger.With("operation_id", operation.id)

	bodyDone := make(chan struct{})
	go func() {
		defer close(bodyDone)
		payload, err := body(ctx, operation.sink)
		if err != nil {
			operation.logger.Error("operation failed", "error", err)
			operation.sink.SendError(err.Error())
			return
		}
		operation.sink.SendComplete(payload)
	}()

	go func() {
		defer close(operation.done)
		select {
		case <-ctx.Done():
			operation.logger.Info("client disconnected, aborting stream")
			operation.sink.Abort()
			// Release whatever the body holds right now, then wait
			// for it to observe cancellation and unwind. The body may
			// still be mid-acquisition at this point, so cleanup runs
			// again afterwards to catch a resource that finished
			// acquiring after the abort.
			operation.runCleanup(ctx)
			<-bodyDone
			operation.runCleanup(ctx)
		case <-bodyDone:
			operation.runCleanup(ctx)
		}
	}()

	return operation, nil
}

// ID returns the operation's correlation identifier.
func (operation *Operation) ID() string { return operation.id }

// Done is closed when the body has returned and cleanup has run. The
// HTTP handler blocks on this before returning.
func (operation *Operation) Done() <-chan struct{} { return operation.done }

// runCleanup invokes the configured cleanup, detached from the
// request's cancellation.
func (operation *Operation) runCleanup(ctx context.Context) {
	if operation.cleanup == nil {
		return
	}
	operation.cleanup(context.WithoutCancel(ctx))
}
