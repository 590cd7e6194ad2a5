package stages

import (
	"container/heap"
	"context"
	"sort"
	"strconv"
	"sync"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// compareField orders two field values under the composite comparator:
// numeric comparison when both parse as floats, otherwise lexicographic.
// It returns <0, 0, >0 as a < b, a == b, a > b.
func compareField(a, b string) int {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// less reports whether x ranks below y under (primary DESC, secondary DESC):
// x is "less" (worse, evicted first) when its primary is smaller, or primaries
// tie and its secondary is smaller.
func less(xPrimary, xSecondary, yPrimary, ySecondary string) bool {
	if c := compareField(xPrimary, yPrimary); c != 0 {
		return c < 0
	}
	return compareField(xSecondary, ySecondary) < 0
}

type sortEntry struct {
	rec       protocol.Record
	primary   string
	secondary string
}

// groupHeap is a bounded min-heap (under the DESC comparator) of at most K
// entries: the worst-ranked survivor sits at the root so it's the one
// evicted in O(log K) when a better record arrives.
type groupHeap []sortEntry

func (h groupHeap) Len() int { return len(h) }
func (h groupHeap) Less(i, j int) bool {
	return less(h[i].primary, h[i].secondary, h[j].primary, h[j].secondary)
}
func (h groupHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *groupHeap) Push(x any)   { *h = append(*h, x.(sortEntry)) }
func (h *groupHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Sorter partitions each session's records by GroupColumn and keeps the
// top AmountPerGroup per group under (PrimaryColumn DESC, SecondaryColumn
// DESC), emitting each group in descending order on the session barrier.
type Sorter struct {
	GroupColumn     string
	PrimaryColumn   string
	SecondaryColumn string
	AmountPerGroup  int
	BatchMaxSize    int
	OutputKind      protocol.Kind

	mu       sync.Mutex
	sessions map[string]map[string]*groupHeap
}

func (s *Sorter) groups(sessionID string) map[string]*groupHeap {
	if s.sessions == nil {
		s.sessions = make(map[string]map[string]*groupHeap)
	}
	g, ok := s.sessions[sessionID]
	if !ok {
		g = make(map[string]*groupHeap)
		s.sessions[sessionID] = g
	}
	return g
}

// HandleBatch implements stage.Handler.
func (s *Sorter) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := s.groups(sessionID)
	for _, rec := range records {
		groupValue, _ := rec.Get(s.GroupColumn)
		primary, _ := rec.Get(s.PrimaryColumn)
		secondary, _ := rec.Get(s.SecondaryColumn)
		entry := sortEntry{rec: rec, primary: primary, secondary: secondary}

		h, ok := groups[groupValue]
		if !ok {
			gh := make(groupHeap, 0, s.AmountPerGroup)
			h = &gh
			groups[groupValue] = h
		}
		if h.Len() < s.AmountPerGroup {
			heap.Push(h, entry)
			continue
		}
		if s.AmountPerGroup > 0 && less((*h)[0].primary, (*h)[0].secondary, entry.primary, entry.secondary) {
			heap.Pop(h)
			heap.Push(h, entry)
		}
	}
	return nil
}

// OnSessionFlush implements stage.Handler: emits each group's surviving
// records in descending (primary, secondary) order, batched at
// BatchMaxSize, then drops the session's heap state.
func (s *Sorter) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	s.mu.Lock()
	groups := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if len(groups) == 0 {
		return nil
	}

	batchSize := s.BatchMaxSize
	ordered := make([]protocol.Record, 0)
	for _, h := range groups {
		entries := append([]sortEntry(nil), (*h)...)
		sort.Slice(entries, func(i, j int) bool {
			return less(entries[j].primary, entries[j].secondary, entries[i].primary, entries[i].secondary)
		})
		for _, e := range entries {
			ordered = append(ordered, e.rec)
		}
	}

	if batchSize <= 0 {
		batchSize = len(ordered)
	}
	for start := 0; start < len(ordered); start += batchSize {
		end := start + batchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		if err := emit(ctx, s.OutputKind, ordered[start:end]); err != nil {
			return err
		}
	}
	return nil
}
