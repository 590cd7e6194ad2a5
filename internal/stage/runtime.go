// Package stage implements the generic stage runtime shared by every
// single-input worker kind (cleaner, filter, mapper, reducer, sorter,
// output builder; the two-input joiner runs its own loop and uses only
// this package's ProducerGroup): frame dispatch, the per-session EOF barrier, dedup at
// stateful stages, and fan-out to downstream producer groups. Stage-
// specific behavior is supplied entirely through the Handler interface;
// this package never knows what a cleaner or a reducer actually does.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
)

// Config wires a Runtime to its surrounding world: where it reads frames
// from, where it fans emitted Batches and EOFs out to, and how many
// upstream controllers it must hear an EOF from before a session's
// barrier closes.
type Config struct {
	// ControllerID identifies this worker instance in logs and as the
	// ProducerID stamped on frames it emits.
	ControllerID string

	// Consumers are the endpoints this stage reads inbound frames from.
	// Most stages have exactly one; a stage bound to several sharded
	// upstream partitions may have more.
	Consumers []broker.Endpoint

	// Groups are the downstream fan-out targets; the Handler's emit calls
	// don't need to know about them — Runtime fans every emitted Batch out
	// to every group.
	Groups []*ProducerGroup

	// PrevControllersAmount is the number of distinct upstream producers
	// whose EOF must all be observed before a session's barrier closes.
	PrevControllersAmount int

	// TrackDedup enables the per-session (producer_id, message_id) dedup
	// set. Only stateful stages (reducer, sorter) should set this;
	// stateless stages re-emit duplicates and rely on the next stateful
	// stage's dedup set to absorb them.
	TrackDedup bool

	// NewMessageID mints a fresh message id for each Batch Runtime emits;
	// the EOF frames it emits carry no message id.
	NewMessageID func() string

	Logger *slog.Logger
}

// Runtime is the generic dispatch loop: one goroutine per Consumer
// endpoint, decoding frames and routing them to Handler, enforcing the
// EOF barrier, and fanning emitted output out through Groups.
type Runtime struct {
	cfg      Config
	handler  Handler
	sessions *sessionTable
	logger   *slog.Logger
}

// NewRuntime builds a Runtime around a stage-specific Handler.
func NewRuntime(cfg Config, handler Handler) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("controller_id", cfg.ControllerID))
	return &Runtime{
		cfg:      cfg,
		handler:  handler,
		sessions: newSessionTable(cfg.TrackDedup),
		logger:   logger,
	}
}

// Run blocks until every Consumer's StartConsuming returns (normally on
// ctx cancellation) or one reports a non-recoverable error, in which case
// Run stops the remaining consumers and returns that error.
func (r *Runtime) Run(ctx context.Context) error {
	if len(r.cfg.Consumers) == 0 {
		return errors.New("stage: runtime configured with no consumers")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(r.cfg.Consumers))

	for _, ep := range r.cfg.Consumers {
		ep := ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ep.StartConsuming(ctx, func(frame []byte) error {
				return r.dispatch(ctx, frame)
			}); err != nil {
				errCh <- err
				_ = r.Stop()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop signals every consumer endpoint to halt its consume loop.
func (r *Runtime) Stop() error {
	var firstErr error
	for _, ep := range r.cfg.Consumers {
		if err := ep.StopConsuming(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runtime) dispatch(ctx context.Context, raw []byte) error {
	frame, err := protocol.Decode(string(raw))
	if err != nil {
		r.logger.Error("frame_decode_error", slog.Any("err", err))
		return err
	}

	switch f := frame.(type) {
	case protocol.Batch:
		return r.dispatchBatch(ctx, f)
	case protocol.EOFFrame:
		return r.dispatchEOF(ctx, f)
	default:
		return fmt.Errorf("stage: unexpected frame kind %q on stage input", frame.Kind())
	}
}

func (r *Runtime) dispatchBatch(ctx context.Context, b protocol.Batch) error {
	sess := r.sessions.Get(b.Header.SessionID)
	if sess.State() == sessionDropped {
		r.logger.Warn("batch_for_dropped_session", slog.String("session_id", b.Header.SessionID))
		return nil
	}
	if sess.Seen(b.Header.ProducerID, b.Header.MessageID) {
		r.logger.Debug("duplicate_batch_dropped",
			slog.String("session_id", b.Header.SessionID),
			slog.String("producer_id", b.Header.ProducerID),
			slog.String("message_id", b.Header.MessageID))
		return nil
	}

	emit := r.emitFunc(ctx, b.Header.SessionID)
	return r.handler.HandleBatch(ctx, b.Header.SessionID, b.BatchKind, b.Records, emit)
}

func (r *Runtime) dispatchEOF(ctx context.Context, e protocol.EOFFrame) error {
	sess := r.sessions.Get(e.Header.SessionID)
	if sess.State() == sessionDropped {
		return nil
	}

	closed := sess.IncrementEOF(r.cfg.PrevControllersAmount)
	if !closed {
		return nil
	}

	sess.SetState(sessionFlushing)
	emit := r.emitFunc(ctx, e.Header.SessionID)
	if err := r.handler.OnSessionFlush(ctx, e.Header.SessionID, emit); err != nil {
		r.logger.Error("session_flush_error", slog.String("session_id", e.Header.SessionID), slog.Any("err", err))
		return err
	}

	outEOF := protocol.EOFFrame{
		Header:         protocol.Header{SessionID: e.Header.SessionID, ProducerID: r.cfg.ControllerID},
		TerminatedKind: e.TerminatedKind,
	}
	for _, g := range r.cfg.Groups {
		if err := g.BroadcastEOF(ctx, outEOF); err != nil {
			r.logger.Error("eof_broadcast_error", slog.String("session_id", e.Header.SessionID), slog.Any("err", err))
			return err
		}
	}

	sess.SetState(sessionDropped)
	r.sessions.Drop(e.Header.SessionID)
	return nil
}

func (r *Runtime) emitFunc(ctx context.Context, sessionID string) EmitFunc {
	return func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		b := protocol.Batch{
			BatchKind: kind,
			Header:    protocol.Header{SessionID: sessionID, ProducerID: r.cfg.ControllerID},
			Records:   records,
		}
		for _, g := range r.cfg.Groups {
			if err := g.Emit(ctx, b, r.cfg.NewMessageID); err != nil {
				return err
			}
		}
		return nil
	}
}
