package stage

import (
	"context"

	"nrgchamp/streampipe/internal/protocol"
)

// EmitFunc is handed to a Handler so it can produce downstream output
// without knowing which ProducerGroup(s) the runtime fans it out to, or
// under what message id the emitted Batch will travel the wire.
type EmitFunc func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error

// Handler is the stage-specific logic plugged into the generic Runtime.
// Cleaner, filter, and mapper stages are stateless: HandleBatch emits
// immediately and OnSessionFlush is a no-op. Reducer and sorter are
// stateful: HandleBatch accumulates into per-session state and
// OnSessionFlush does the real emission once the EOF barrier has closed.
// The joiner does not implement Handler; it runs its own two-input loop.
type Handler interface {
	// HandleBatch processes one inbound Batch of records belonging to
	// sessionID. It may call emit any number of times, including zero.
	HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit EmitFunc) error

	// OnSessionFlush is invoked exactly once per session, after the EOF
	// barrier for that session has closed (every upstream controller's
	// EOF has been observed). It is the only place a stateful Handler
	// should emit its accumulated results.
	OnSessionFlush(ctx context.Context, sessionID string, emit EmitFunc) error
}
