package stages

import (
	"context"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// DeriveFunc augments a record with derived columns (e.g. a half-year or
// year-month bucket computed from a timestamp column) and returns the
// augmented record. cmd wiring supplies the concrete derivations.
type DeriveFunc func(protocol.Record) protocol.Record

// Mapper applies Derive to every record in a Batch and forwards the
// augmented Batch under the same kind.
type Mapper struct {
	Derive DeriveFunc
}

// HandleBatch implements stage.Handler.
func (m *Mapper) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	mapped := make([]protocol.Record, len(records))
	for i, rec := range records {
		mapped[i] = m.Derive(rec)
	}
	return emit(ctx, kind, mapped)
}

// OnSessionFlush implements stage.Handler; the mapper is stateless.
func (m *Mapper) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	return nil
}
