package stages

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// ReduceFunc folds one record into the running accumulator for its key
// tuple and returns the new accumulator value.
type ReduceFunc func(current float64, rec protocol.Record) float64

const reducerKeyJoinSep = "\x1f"

type reducerEntry struct {
	keyValues []string
	acc       float64
}

// Reducer performs per-session hash aggregation keyed on a tuple of
// grouping columns, flushing one emitted record per key on the session's
// EOF barrier. Key columns equal to the empty string are aggregated into
// the empty-tuple bucket rather than discarded — spec-documented, not a
// silent default.
type Reducer struct {
	GroupColumns      []string
	AccumulatorColumn string
	Reduce            ReduceFunc
	BatchMaxSize      int
	OutputKind        protocol.Kind

	mu       sync.Mutex
	sessions map[string]map[string]*reducerEntry
}

func (r *Reducer) table(sessionID string) map[string]*reducerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]map[string]*reducerEntry)
	}
	t, ok := r.sessions[sessionID]
	if !ok {
		t = make(map[string]*reducerEntry)
		r.sessions[sessionID] = t
	}
	return t
}

func (r *Reducer) keyTuple(rec protocol.Record) (key string, values []string) {
	values = make([]string, len(r.GroupColumns))
	for i, col := range r.GroupColumns {
		v, _ := rec.Get(col)
		values[i] = v
	}
	return strings.Join(values, reducerKeyJoinSep), values
}

// HandleBatch implements stage.Handler. It never emits directly; results
// are only produced on OnSessionFlush.
func (r *Reducer) HandleBatch(ctx context.Context, sessionID string, kind protocol.Kind, records []protocol.Record, emit stage.EmitFunc) error {
	t := r.table(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		key, values := r.keyTuple(rec)
		entry, ok := t[key]
		if !ok {
			entry = &reducerEntry{keyValues: values}
			t[key] = entry
		}
		entry.acc = r.Reduce(entry.acc, rec)
	}
	return nil
}

// OnSessionFlush implements stage.Handler: emits one record per accumulated
// key, batched at BatchMaxSize, then drops the session's accumulator.
func (r *Reducer) OnSessionFlush(ctx context.Context, sessionID string, emit stage.EmitFunc) error {
	r.mu.Lock()
	t := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if len(t) == 0 {
		return nil
	}

	batchSize := r.BatchMaxSize
	if batchSize <= 0 {
		batchSize = len(t)
	}

	kind := r.OutputKind
	batch := make([]protocol.Record, 0, batchSize)
	for _, entry := range t {
		rec := protocol.Record{}
		for i, col := range r.GroupColumns {
			rec.Set(col, entry.keyValues[i])
		}
		rec.Set(r.AccumulatorColumn, strconv.FormatFloat(entry.acc, 'f', -1, 64))
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := emit(ctx, kind, batch); err != nil {
				return err
			}
			batch = make([]protocol.Record, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		if err := emit(ctx, kind, batch); err != nil {
			return err
		}
	}
	return nil
}
