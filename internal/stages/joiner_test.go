package stages

import (
	"context"
	"sync"
	"testing"
	"time"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

func joinerSequentialIDs() func() string {
	n := 0
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "jm" + string(rune('0'+n))
	}
}

func newTestJoiner(out broker.Endpoint, base, streamIn *broker.MemoryEndpoint) *Joiner {
	return &Joiner{
		ControllerID:                "joiner-0",
		JoinKey:                     "item_id",
		BaseConsumer:                base,
		BasePrevControllersAmount:   1,
		StreamConsumer:              streamIn,
		StreamPrevControllersAmount: 1,
		Groups:                      []*stage.ProducerGroup{{Endpoints: []broker.Endpoint{out}, Policy: stage.Broadcast}},
		NewMessageID:                joinerSequentialIDs(),
		OutputKind:                  protocol.KindQuery21,
	}
}

func TestJoinerJoinsStreamAfterBaseComplete(t *testing.T) {
	base := broker.NewMemoryEndpoint(8)
	streamIn := broker.NewMemoryEndpoint(8)
	out := broker.NewMemoryEndpoint(8)

	j := newTestJoiner(out, base, streamIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = j.Run(ctx) }()

	baseBatch := protocol.Batch{
		BatchKind: protocol.KindMenuItems,
		Header:    protocol.Header{SessionID: "s1", MessageID: "b1", ProducerID: "client-0"},
		Records:   []protocol.Record{protocol.NewRecord([2]string{"item_id", "7"}, [2]string{"item_name", "burger"})},
	}
	if err := base.Send(ctx, []byte(baseBatch.Encode())); err != nil {
		t.Fatalf("send base batch: %v", err)
	}
	baseEOF := protocol.EOFFrame{Header: protocol.Header{SessionID: "s1", ProducerID: "client-0"}, TerminatedKind: protocol.KindMenuItems}
	if err := base.Send(ctx, []byte(baseEOF.Encode())); err != nil {
		t.Fatalf("send base eof: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	streamBatch := protocol.Batch{
		BatchKind: protocol.KindTransactionItems,
		Header:    protocol.Header{SessionID: "s1", MessageID: "st1", ProducerID: "client-0"},
		Records:   []protocol.Record{protocol.NewRecord([2]string{"item_id", "7"}, [2]string{"quantity", "3"})},
	}
	if err := streamIn.Send(ctx, []byte(streamBatch.Encode())); err != nil {
		t.Fatalf("send stream batch: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	got := captureOneFrame(t, out)
	b, ok := got.(protocol.Batch)
	if !ok {
		t.Fatalf("expected a joined Batch, got %T", got)
	}
	if len(b.Records) != 1 {
		t.Fatalf("expected 1 joined record, got %d", len(b.Records))
	}
	name, _ := b.Records[0].Get("item_name")
	qty, _ := b.Records[0].Get("quantity")
	if name != "burger" || qty != "3" {
		t.Fatalf("expected joined fields item_name=burger quantity=3, got name=%q qty=%q", name, qty)
	}

	cancel()
	_ = base.Close()
	_ = streamIn.Close()
	_ = out.Close()
	wg.Wait()
}

func TestJoinerRequeuesOutOfOrderStreamEOF(t *testing.T) {
	base := broker.NewMemoryEndpoint(8)
	streamIn := broker.NewMemoryEndpoint(8)
	out := broker.NewMemoryEndpoint(8)

	j := newTestJoiner(out, base, streamIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = j.Run(ctx) }()

	streamEOF := protocol.EOFFrame{Header: protocol.Header{SessionID: "s2", ProducerID: "client-0"}, TerminatedKind: protocol.KindTransactionItems}
	if err := streamIn.Send(ctx, []byte(streamEOF.Encode())); err != nil {
		t.Fatalf("send stream eof: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	j.mu.Lock()
	ready := j.allBaseReceived["s2"]
	j.mu.Unlock()
	if ready {
		t.Fatalf("expected base not yet complete for session s2")
	}

	baseEOF := protocol.EOFFrame{Header: protocol.Header{SessionID: "s2", ProducerID: "client-0"}, TerminatedKind: protocol.KindMenuItems}
	if err := base.Send(ctx, []byte(baseEOF.Encode())); err != nil {
		t.Fatalf("send base eof: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	frame := captureOneFrame(t, out)
	if _, ok := frame.(protocol.EOFFrame); !ok {
		t.Fatalf("expected downstream EOF after requeue resolved, got %T", frame)
	}

	cancel()
	_ = base.Close()
	_ = streamIn.Close()
	_ = out.Close()
	wg.Wait()
}

func captureOneFrame(t *testing.T, ep *broker.MemoryEndpoint) protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var frame protocol.Frame
	done := make(chan struct{})
	go func() {
		_ = ep.StartConsuming(ctx, func(raw []byte) error {
			f, err := protocol.Decode(string(raw))
			if err != nil {
				return err
			}
			frame = f
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for a frame on the output endpoint")
	}
	_ = ep.StopConsuming()
	return frame
}
