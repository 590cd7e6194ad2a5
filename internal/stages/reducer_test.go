package stages

import (
	"context"
	"strconv"
	"testing"

	"nrgchamp/streampipe/internal/protocol"
)

func sumReduce(current float64, r protocol.Record) float64 {
	v, _ := r.Get("final_amount")
	f, _ := strconv.ParseFloat(v, 64)
	return current + f
}

func TestReducerAggregatesByKeyAndFlushesOnBarrier(t *testing.T) {
	r := &Reducer{
		GroupColumns:      []string{"store_id"},
		AccumulatorColumn: "total",
		Reduce:            sumReduce,
		OutputKind:        protocol.KindQuery21,
	}

	ctx := context.Background()
	emit, _ := collectEmit(t)

	recs := []protocol.Record{
		protocol.NewRecord([2]string{"store_id", "1"}, [2]string{"final_amount", "10"}),
		protocol.NewRecord([2]string{"store_id", "1"}, [2]string{"final_amount", "5"}),
		protocol.NewRecord([2]string{"store_id", "2"}, [2]string{"final_amount", "3"}),
	}
	if err := r.HandleBatch(ctx, "s1", protocol.KindTransactions, recs, emit); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}

	var flushed []protocol.Record
	flushEmit := func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		if kind != protocol.KindQuery21 {
			t.Fatalf("expected output kind KindQuery21, got %v", kind)
		}
		flushed = append(flushed, records...)
		return nil
	}
	if err := r.OnSessionFlush(ctx, "s1", flushEmit); err != nil {
		t.Fatalf("OnSessionFlush: %v", err)
	}
	if len(flushed) != 2 {
		t.Fatalf("expected 2 aggregated keys, got %d", len(flushed))
	}

	totals := map[string]string{}
	for _, rec := range flushed {
		store, _ := rec.Get("store_id")
		total, _ := rec.Get("total")
		totals[store] = total
	}
	if totals["1"] != "15" {
		t.Fatalf("expected store 1 total 15, got %q", totals["1"])
	}
	if totals["2"] != "3" {
		t.Fatalf("expected store 2 total 3, got %q", totals["2"])
	}
}

func TestReducerDropsSessionStateAfterFlush(t *testing.T) {
	r := &Reducer{GroupColumns: []string{"k"}, AccumulatorColumn: "total", Reduce: sumReduce}
	ctx := context.Background()
	emit, _ := collectEmit(t)
	_ = r.HandleBatch(ctx, "s1", protocol.KindTransactions, []protocol.Record{protocol.NewRecord([2]string{"k", "a"}, [2]string{"final_amount", "1"})}, emit)

	var calls int
	noop := func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error { calls++; return nil }
	_ = r.OnSessionFlush(ctx, "s1", noop)
	if calls != 1 {
		t.Fatalf("expected 1 flush emit, got %d", calls)
	}
	calls = 0
	_ = r.OnSessionFlush(ctx, "s1", noop)
	if calls != 0 {
		t.Fatalf("expected no emit on second flush of a dropped session, got %d", calls)
	}
}
