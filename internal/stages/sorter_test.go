package stages

import (
	"context"
	"testing"

	"nrgchamp/streampipe/internal/protocol"
)

func recWithScore(group, score string) protocol.Record {
	return protocol.NewRecord([2]string{"group", group}, [2]string{"score", score}, [2]string{"tie", "0"})
}

func TestSorterKeepsTopKPerGroupDescending(t *testing.T) {
	s := &Sorter{
		GroupColumn:     "group",
		PrimaryColumn:   "score",
		SecondaryColumn: "tie",
		AmountPerGroup:  2,
		OutputKind:      protocol.KindQuery3X,
	}
	ctx := context.Background()
	emit, _ := collectEmit(t)

	recs := []protocol.Record{
		recWithScore("a", "1"),
		recWithScore("a", "5"),
		recWithScore("a", "3"),
		recWithScore("a", "9"),
	}
	if err := s.HandleBatch(ctx, "s1", protocol.KindTransactions, recs, emit); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}

	var flushed []protocol.Record
	flushEmit := func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		flushed = append(flushed, records...)
		return nil
	}
	if err := s.OnSessionFlush(ctx, "s1", flushEmit); err != nil {
		t.Fatalf("OnSessionFlush: %v", err)
	}

	if len(flushed) != 2 {
		t.Fatalf("expected top-2 survivors, got %d", len(flushed))
	}
	first, _ := flushed[0].Get("score")
	second, _ := flushed[1].Get("score")
	if first != "9" || second != "5" {
		t.Fatalf("expected descending [9,5], got [%s,%s]", first, second)
	}
}

func TestSorterEmitsAllWhenInputBelowK(t *testing.T) {
	s := &Sorter{GroupColumn: "group", PrimaryColumn: "score", SecondaryColumn: "tie", AmountPerGroup: 5}
	ctx := context.Background()
	emit, _ := collectEmit(t)

	recs := []protocol.Record{recWithScore("a", "1"), recWithScore("a", "2")}
	if err := s.HandleBatch(ctx, "s1", protocol.KindTransactions, recs, emit); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}

	var flushed []protocol.Record
	flushEmit := func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		flushed = append(flushed, records...)
		return nil
	}
	if err := s.OnSessionFlush(ctx, "s1", flushEmit); err != nil {
		t.Fatalf("OnSessionFlush: %v", err)
	}
	if len(flushed) != 2 {
		t.Fatalf("expected both records emitted when input <= K, got %d", len(flushed))
	}
}

func TestSorterGroupsAreIndependent(t *testing.T) {
	s := &Sorter{GroupColumn: "group", PrimaryColumn: "score", SecondaryColumn: "tie", AmountPerGroup: 1}
	ctx := context.Background()
	emit, _ := collectEmit(t)

	recs := []protocol.Record{recWithScore("a", "1"), recWithScore("b", "2")}
	if err := s.HandleBatch(ctx, "s1", protocol.KindTransactions, recs, emit); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}

	var flushed []protocol.Record
	flushEmit := func(ctx context.Context, kind protocol.Kind, records []protocol.Record) error {
		flushed = append(flushed, records...)
		return nil
	}
	if err := s.OnSessionFlush(ctx, "s1", flushEmit); err != nil {
		t.Fatalf("OnSessionFlush: %v", err)
	}
	if len(flushed) != 2 {
		t.Fatalf("expected one survivor per group (2 groups), got %d", len(flushed))
	}
}
