package stages

import (
	"context"
	"testing"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

func collectEmit(t *testing.T) (stage.EmitFunc, *[]protocol.Record) {
	t.Helper()
	var got []protocol.Record
	return func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		got = append(got, records...)
		return nil
	}, &got
}

func TestCleanerProjectsColumns(t *testing.T) {
	c := &Cleaner{Columns: []string{"transaction_id", "final_amount"}}
	rec := protocol.NewRecord([2]string{"transaction_id", "t1"}, [2]string{"final_amount", "9.50"}, [2]string{"user_id", "u1"})

	emit, got := collectEmit(t)
	if err := c.HandleBatch(context.Background(), "s1", protocol.KindTransactions, []protocol.Record{rec}, emit); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(*got))
	}
	if _, ok := (*got)[0].Get("user_id"); ok {
		t.Fatalf("expected user_id dropped by projection")
	}
	if v, ok := (*got)[0].Get("final_amount"); !ok || v != "9.50" {
		t.Fatalf("expected final_amount preserved, got %q ok=%v", v, ok)
	}
}
