// Package stages holds the per-kind Handler implementations (cleaner,
// filter, mapper, reducer, sorter, output builder) plugged into the
// generic runtime in internal/stage, plus the two-input Joiner, which runs
// its own consume loop. None of these hold query-specific
// predicates or column lists inline — those are supplied by cmd wiring as
// plain configuration, keeping this package the reusable stage core.
package stages

import (
	"context"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// Cleaner projects every record down to a fixed column subset before
// forwarding the Batch unchanged in kind.
type Cleaner struct {
	Columns []string
}

// HandleBatch implements stage.Handler.
func (c *Cleaner) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	projected := make([]protocol.Record, len(records))
	for i, rec := range records {
		projected[i] = rec.Project(c.Columns)
	}
	return emit(ctx, kind, projected)
}

// OnSessionFlush implements stage.Handler; the cleaner is stateless.
func (c *Cleaner) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	return nil
}
