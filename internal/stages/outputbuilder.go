package stages

import (
	"context"
	"fmt"
	"sync"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// EndpointFactory opens the per-session egress endpoint an output builder
// lazily creates the first time a session produces a result, named
// "<prefix>-<session_id>" by convention so the session router can find it.
type EndpointFactory func(sessionID string) broker.Endpoint

// OutputBuilder projects each Batch onto a query's published column set,
// retags it with the query-result kind, and sends it down a per-session
// egress endpoint rather than a shared producer group — each session gets
// its own private result queue, torn down on that session's flush.
type OutputBuilder struct {
	Columns    []string
	ResultKind protocol.Kind
	NewEgress  EndpointFactory

	mu       sync.Mutex
	egresses map[string]broker.Endpoint
}

func (o *OutputBuilder) egress(sessionID string) broker.Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.egresses == nil {
		o.egresses = make(map[string]broker.Endpoint)
	}
	ep, ok := o.egresses[sessionID]
	if !ok {
		ep = o.NewEgress(sessionID)
		o.egresses[sessionID] = ep
	}
	return ep
}

// HandleBatch implements stage.Handler: it bypasses the runtime's
// ProducerGroup fan-out entirely and writes directly to the session's
// private egress endpoint, since that endpoint didn't exist until this
// session's first result.
func (o *OutputBuilder) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	projected := make([]protocol.Record, len(records))
	for i, rec := range records {
		projected[i] = rec.Project(o.Columns)
	}
	b := protocol.Batch{BatchKind: o.ResultKind, Header: protocol.Header{SessionID: sessionID}, Records: projected}
	ep := o.egress(sessionID)
	if err := ep.Send(ctx, []byte(b.Encode())); err != nil {
		return fmt.Errorf("output builder: send to session egress: %w", err)
	}
	return nil
}

// OnSessionFlush implements stage.Handler: emits the terminating EOF on
// the session's private egress endpoint and tears it down, since it is
// never reused once the query is complete.
func (o *OutputBuilder) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	o.mu.Lock()
	ep, ok := o.egresses[sessionID]
	delete(o.egresses, sessionID)
	o.mu.Unlock()
	if !ok {
		ep = o.NewEgress(sessionID)
	}

	eof := protocol.EOFFrame{Header: protocol.Header{SessionID: sessionID}, TerminatedKind: o.ResultKind}
	if err := ep.Send(ctx, []byte(eof.Encode())); err != nil {
		return fmt.Errorf("output builder: send session eof: %w", err)
	}
	if err := ep.Close(); err != nil {
		return fmt.Errorf("output builder: close session egress: %w", err)
	}
	return nil
}
