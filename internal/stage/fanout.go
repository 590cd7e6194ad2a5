package stage

import (
	"context"
	"fmt"
	"sync"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
)

// PolicyKind selects how a ProducerGroup spreads outbound Batches across
// its endpoints.
type PolicyKind int

// Fan-out policies a stage may select per producer group.
const (
	// RoundRobin sends each emitted Batch to the next endpoint in rotation.
	RoundRobin PolicyKind = iota
	// KeySharded groups a Batch's records by ShardBucket(column) and emits
	// one Batch per non-empty bucket, each to its corresponding endpoint.
	KeySharded
	// Broadcast sends every emitted Batch to every endpoint in the group.
	Broadcast
)

// ProducerGroup is one downstream addressing target: a list of endpoints
// plus the policy used to spread Batches across them. A stage may be
// configured with several heterogeneous groups (e.g. the transaction
// filter fans out to both a downstream filter subgraph and a downstream
// reducer subgraph); every group receives an independent copy of the
// fan-out decision for each emitted Batch.
type ProducerGroup struct {
	Endpoints    []broker.Endpoint
	Policy       PolicyKind
	ShardColumn  string // only meaningful when Policy == KeySharded

	mu  sync.Mutex
	rrIndex int
}

// Emit applies the group's fan-out policy to a single outbound Batch,
// assigning it a fresh message id per produced wire Batch.
func (g *ProducerGroup) Emit(ctx context.Context, b protocol.Batch, newMessageID func() string) error {
	switch g.Policy {
	case Broadcast:
		for _, ep := range g.Endpoints {
			out := b
			out.Header.MessageID = newMessageID()
			if err := ep.Send(ctx, []byte(out.Encode())); err != nil {
				return fmt.Errorf("broadcast send: %w", err)
			}
		}
		return nil
	case KeySharded:
		return g.emitSharded(ctx, b, newMessageID)
	default:
		return g.emitRoundRobin(ctx, b, newMessageID)
	}
}

func (g *ProducerGroup) emitRoundRobin(ctx context.Context, b protocol.Batch, newMessageID func() string) error {
	if len(g.Endpoints) == 0 {
		return nil
	}
	g.mu.Lock()
	idx := g.rrIndex
	g.rrIndex = (g.rrIndex + 1) % len(g.Endpoints)
	g.mu.Unlock()

	b.Header.MessageID = newMessageID()
	if err := g.Endpoints[idx].Send(ctx, []byte(b.Encode())); err != nil {
		return fmt.Errorf("round robin send: %w", err)
	}
	return nil
}

func (g *ProducerGroup) emitSharded(ctx context.Context, b protocol.Batch, newMessageID func() string) error {
	n := len(g.Endpoints)
	if n == 0 {
		return nil
	}
	buckets := make(map[int][]protocol.Record, n)
	for _, rec := range b.Records {
		value, _ := rec.Get(g.ShardColumn)
		bucket := ShardBucket(value, n)
		buckets[bucket] = append(buckets[bucket], rec)
	}
	for bucket, records := range buckets {
		out := protocol.Batch{BatchKind: b.BatchKind, Header: b.Header, Records: records}
		out.Header.MessageID = newMessageID()
		if err := g.Endpoints[bucket].Send(ctx, []byte(out.Encode())); err != nil {
			return fmt.Errorf("sharded send to bucket %d: %w", bucket, err)
		}
	}
	return nil
}

// BroadcastEOF sends one EOF frame to every endpoint in the group,
// regardless of the group's Batch fan-out policy — EOF conservation
// requires every downstream endpoint to see exactly one EOF per upstream
// controller, independent of how data Batches were sharded.
func (g *ProducerGroup) BroadcastEOF(ctx context.Context, e protocol.EOFFrame) error {
	for _, ep := range g.Endpoints {
		if err := ep.Send(ctx, []byte(e.Encode())); err != nil {
			return fmt.Errorf("eof broadcast: %w", err)
		}
	}
	return nil
}
