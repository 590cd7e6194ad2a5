package stages

import (
	"context"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// Predicate reports whether a record survives a Filter stage. cmd wiring
// supplies the concrete year/hour/amount predicates; this package only
// knows how to apply one.
type Predicate func(protocol.Record) bool

// Filter drops records failing Predicate and forwards only survivors. An
// outbound Batch that would be empty is not emitted at all, so downstream
// stages never see a vacuous Batch that could be mistaken for an EOF.
type Filter struct {
	Predicate Predicate
}

// HandleBatch implements stage.Handler.
func (f *Filter) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	survivors := make([]protocol.Record, 0, len(records))
	for _, rec := range records {
		if f.Predicate(rec) {
			survivors = append(survivors, rec)
		}
	}
	if len(survivors) == 0 {
		return nil
	}
	return emit(ctx, kind, survivors)
}

// OnSessionFlush implements stage.Handler; the filter is stateless.
func (f *Filter) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	return nil
}
