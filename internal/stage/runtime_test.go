package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
)

// passthroughHandler emits every inbound record unchanged and only acts on
// OnSessionFlush to prove the barrier fired exactly once.
type passthroughHandler struct {
	mu       sync.Mutex
	flushed  []string
	received int
}

func (h *passthroughHandler) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit EmitFunc) error {
	h.mu.Lock()
	h.received += len(records)
	h.mu.Unlock()
	return emit(ctx, kind, records)
}

func (h *passthroughHandler) OnSessionFlush(ctx context.Context, sessionID string, emit EmitFunc) error {
	h.mu.Lock()
	h.flushed = append(h.flushed, sessionID)
	h.mu.Unlock()
	return nil
}

func sequentialIDs() func() string {
	n := 0
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "m" + string(rune('0'+n))
	}
}

func TestRuntimeEOFBarrierFiresOnceAfterAllControllers(t *testing.T) {
	in := broker.NewMemoryEndpoint(8)
	out := broker.NewMemoryEndpoint(8)
	group := &ProducerGroup{Endpoints: []broker.Endpoint{out}, Policy: Broadcast}

	handler := &passthroughHandler{}
	rt := NewRuntime(Config{
		ControllerID:          "cleaner-0",
		Consumers:             []broker.Endpoint{in},
		Groups:                []*ProducerGroup{group},
		PrevControllersAmount: 2,
		NewMessageID:          sequentialIDs(),
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rt.Run(ctx)
	}()

	batch := protocol.Batch{
		BatchKind: protocol.KindMenuItems,
		Header:    protocol.Header{SessionID: "s1", MessageID: "m1", ProducerID: "client-0"},
		Records:   []protocol.Record{protocol.NewRecord([2]string{"id", "42"})},
	}
	if err := in.Send(ctx, []byte(batch.Encode())); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	eof1 := protocol.EOFFrame{Header: protocol.Header{SessionID: "s1", ProducerID: "client-0"}, TerminatedKind: protocol.KindMenuItems}
	if err := in.Send(ctx, []byte(eof1.Encode())); err != nil {
		t.Fatalf("send eof1: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	handler.mu.Lock()
	if len(handler.flushed) != 0 {
		t.Fatalf("expected no flush before second EOF, got %v", handler.flushed)
	}
	handler.mu.Unlock()

	eof2 := protocol.EOFFrame{Header: protocol.Header{SessionID: "s1", ProducerID: "client-1"}, TerminatedKind: protocol.KindMenuItems}
	if err := in.Send(ctx, []byte(eof2.Encode())); err != nil {
		t.Fatalf("send eof2: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	handler.mu.Lock()
	if len(handler.flushed) != 1 || handler.flushed[0] != "s1" {
		t.Fatalf("expected exactly one flush for s1, got %v", handler.flushed)
	}
	handler.mu.Unlock()

	cancel()
	_ = in.Close()
	_ = out.Close()
	wg.Wait()
}

func TestRuntimeDropsDuplicateMessageID(t *testing.T) {
	in := broker.NewMemoryEndpoint(8)
	out := broker.NewMemoryEndpoint(8)
	group := &ProducerGroup{Endpoints: []broker.Endpoint{out}, Policy: RoundRobin}

	handler := &passthroughHandler{}
	rt := NewRuntime(Config{
		ControllerID:          "reducer-0",
		Consumers:             []broker.Endpoint{in},
		Groups:                []*ProducerGroup{group},
		PrevControllersAmount: 1,
		TrackDedup:            true,
		NewMessageID:          sequentialIDs(),
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rt.Run(ctx)
	}()

	batch := protocol.Batch{
		BatchKind: protocol.KindUsers,
		Header:    protocol.Header{SessionID: "s2", MessageID: "dup", ProducerID: "client-0"},
		Records:   []protocol.Record{protocol.NewRecord([2]string{"id", "1"})},
	}
	for i := 0; i < 3; i++ {
		if err := in.Send(ctx, []byte(batch.Encode())); err != nil {
			t.Fatalf("send batch %d: %v", i, err)
		}
	}

	time.Sleep(30 * time.Millisecond)
	handler.mu.Lock()
	if handler.received != 1 {
		t.Fatalf("expected dedup to collapse 3 identical batches into 1, got %d records processed", handler.received)
	}
	handler.mu.Unlock()

	cancel()
	_ = in.Close()
	_ = out.Close()
	wg.Wait()
}

func TestRuntimeSessionIsolation(t *testing.T) {
	in := broker.NewMemoryEndpoint(8)
	out := broker.NewMemoryEndpoint(8)
	group := &ProducerGroup{Endpoints: []broker.Endpoint{out}, Policy: Broadcast}

	handler := &passthroughHandler{}
	rt := NewRuntime(Config{
		ControllerID:          "mapper-0",
		Consumers:             []broker.Endpoint{in},
		Groups:                []*ProducerGroup{group},
		PrevControllersAmount: 1,
		NewMessageID:          sequentialIDs(),
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rt.Run(ctx)
	}()

	eofA := protocol.EOFFrame{Header: protocol.Header{SessionID: "a", ProducerID: "client-0"}, TerminatedKind: protocol.KindStores}
	if err := in.Send(ctx, []byte(eofA.Encode())); err != nil {
		t.Fatalf("send eofA: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	handler.mu.Lock()
	flushedA := len(handler.flushed)
	handler.mu.Unlock()
	if flushedA != 1 {
		t.Fatalf("expected session a to flush independently, got %d flushes", flushedA)
	}

	eofB := protocol.EOFFrame{Header: protocol.Header{SessionID: "b", ProducerID: "client-0"}, TerminatedKind: protocol.KindStores}
	if err := in.Send(ctx, []byte(eofB.Encode())); err != nil {
		t.Fatalf("send eofB: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	handler.mu.Lock()
	if len(handler.flushed) != 2 {
		t.Fatalf("expected session b to flush independently of a, got %v", handler.flushed)
	}
	handler.mu.Unlock()

	cancel()
	_ = in.Close()
	_ = out.Close()
	wg.Wait()
}
