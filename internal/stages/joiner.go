package stages

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
)

// NormalizeFunc coerces a join key's raw text value (e.g. numeric strings
// with differing representations) to a comparable canonical form.
type NormalizeFunc func(string) string

// Joiner is the two-input barrier stage: the base side fully materializes
// a session before the stream side is allowed to join against it. Base and
// stream each run on their own consumer goroutine; the base table and its
// completion flag are the only state shared between them, guarded by mu.
type Joiner struct {
	ControllerID string

	JoinKey   string
	Normalize NormalizeFunc

	BaseConsumer              broker.Endpoint
	BasePrevControllersAmount int

	StreamConsumer              broker.Endpoint
	StreamPrevControllersAmount int

	Groups       []*stage.ProducerGroup
	NewMessageID func() string
	OutputKind   protocol.Kind

	Logger *slog.Logger

	mu              sync.Mutex
	baseTable       map[string][]protocol.Record
	allBaseReceived map[string]bool
	baseEOFCount    map[string]int

	streamMu       sync.Mutex
	streamBuffer   map[string][]protocol.Batch
	streamEOFCount map[string]int
}

func (j *Joiner) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *Joiner) init() {
	j.mu.Lock()
	if j.baseTable == nil {
		j.baseTable = make(map[string][]protocol.Record)
		j.allBaseReceived = make(map[string]bool)
		j.baseEOFCount = make(map[string]int)
	}
	j.mu.Unlock()

	j.streamMu.Lock()
	if j.streamBuffer == nil {
		j.streamBuffer = make(map[string][]protocol.Batch)
		j.streamEOFCount = make(map[string]int)
	}
	j.streamMu.Unlock()
}

// Run blocks consuming both the base and stream endpoints until ctx is
// cancelled or either consumer reports a fatal error.
func (j *Joiner) Run(ctx context.Context) error {
	j.init()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := j.BaseConsumer.StartConsuming(ctx, func(frame []byte) error {
			return j.dispatchBase(ctx, frame)
		}); err != nil {
			errCh <- err
			_ = j.Stop()
		}
	}()

	go func() {
		defer wg.Done()
		if err := j.StreamConsumer.StartConsuming(ctx, func(frame []byte) error {
			return j.dispatchStream(ctx, frame)
		}); err != nil {
			errCh <- err
			_ = j.Stop()
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop halts both consumer goroutines.
func (j *Joiner) Stop() error {
	err1 := j.BaseConsumer.StopConsuming()
	err2 := j.StreamConsumer.StopConsuming()
	if err1 != nil {
		return err1
	}
	return err2
}

func (j *Joiner) dispatchBase(ctx context.Context, raw []byte) error {
	frame, err := protocol.Decode(string(raw))
	if err != nil {
		return err
	}
	switch f := frame.(type) {
	case protocol.Batch:
		j.mu.Lock()
		j.baseTable[f.Header.SessionID] = append(j.baseTable[f.Header.SessionID], f.Records...)
		j.mu.Unlock()
		return nil
	case protocol.EOFFrame:
		sessionID := f.Header.SessionID
		j.mu.Lock()
		j.baseEOFCount[sessionID]++
		if j.baseEOFCount[sessionID] == j.BasePrevControllersAmount {
			j.allBaseReceived[sessionID] = true
		}
		j.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("stages: unexpected frame kind %q on joiner base input", frame.Kind())
	}
}

func (j *Joiner) dispatchStream(ctx context.Context, raw []byte) error {
	frame, err := protocol.Decode(string(raw))
	if err != nil {
		return err
	}
	switch f := frame.(type) {
	case protocol.Batch:
		return j.handleStreamBatch(ctx, f)
	case protocol.EOFFrame:
		return j.handleStreamEOF(ctx, f, raw)
	default:
		return fmt.Errorf("stages: unexpected frame kind %q on joiner stream input", frame.Kind())
	}
}

func (j *Joiner) handleStreamBatch(ctx context.Context, b protocol.Batch) error {
	sessionID := b.Header.SessionID

	j.streamMu.Lock()
	j.streamBuffer[sessionID] = append(j.streamBuffer[sessionID], b)
	j.streamMu.Unlock()

	j.mu.Lock()
	ready := j.allBaseReceived[sessionID]
	j.mu.Unlock()

	if ready {
		return j.drainStreamBuffer(ctx, sessionID)
	}
	j.logger().Debug("stream_batch_buffered_before_base_complete", slog.String("session_id", sessionID))
	return nil
}

func (j *Joiner) drainStreamBuffer(ctx context.Context, sessionID string) error {
	j.streamMu.Lock()
	buffered := j.streamBuffer[sessionID]
	j.streamBuffer[sessionID] = nil
	j.streamMu.Unlock()

	j.mu.Lock()
	base := j.baseTable[sessionID]
	j.mu.Unlock()

	for _, batch := range buffered {
		joined := j.joinBatch(batch, base)
		if len(joined) == 0 {
			continue
		}
		if err := j.emit(ctx, sessionID, joined); err != nil {
			return err
		}
	}
	return nil
}

func (j *Joiner) joinBatch(b protocol.Batch, base []protocol.Record) []protocol.Record {
	normalize := j.Normalize
	if normalize == nil {
		normalize = func(s string) string { return s }
	}

	joined := make([]protocol.Record, 0, len(b.Records))
	for _, streamRec := range b.Records {
		streamValue, ok := streamRec.Get(j.JoinKey)
		if !ok {
			j.logger().Warn("join_missing_key", slog.String("join_key", j.JoinKey))
			continue
		}
		matched := false
		for _, baseRec := range base {
			baseValue, ok := baseRec.Get(j.JoinKey)
			if !ok {
				continue
			}
			if normalize(baseValue) == normalize(streamValue) {
				joined = append(joined, streamRec.Merge(baseRec))
				matched = true
				break
			}
		}
		if !matched {
			j.logger().Warn("join_with_base_data_failed", slog.String("join_key", j.JoinKey), slog.String("value", streamValue))
		}
	}
	return joined
}

func (j *Joiner) emit(ctx context.Context, sessionID string, records []protocol.Record) error {
	b := protocol.Batch{
		BatchKind: j.OutputKind,
		Header:    protocol.Header{SessionID: sessionID, ProducerID: j.ControllerID},
		Records:   records,
	}
	for _, g := range j.Groups {
		if err := g.Emit(ctx, b, j.NewMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (j *Joiner) handleStreamEOF(ctx context.Context, f protocol.EOFFrame, raw []byte) error {
	sessionID := f.Header.SessionID

	j.streamMu.Lock()
	j.streamEOFCount[sessionID]++
	reachedBarrier := j.streamEOFCount[sessionID] == j.StreamPrevControllersAmount
	j.streamMu.Unlock()

	if !reachedBarrier {
		return nil
	}

	j.mu.Lock()
	baseReady := j.allBaseReceived[sessionID]
	j.mu.Unlock()

	if !baseReady {
		j.logger().Debug("stream_eof_before_base_complete_requeue", slog.String("session_id", sessionID))
		j.streamMu.Lock()
		j.streamEOFCount[sessionID]--
		j.streamMu.Unlock()
		return j.StreamConsumer.Send(ctx, raw)
	}

	if err := j.drainStreamBuffer(ctx, sessionID); err != nil {
		return err
	}

	outEOF := protocol.EOFFrame{
		Header:         protocol.Header{SessionID: sessionID, ProducerID: j.ControllerID},
		TerminatedKind: f.TerminatedKind,
	}
	for _, g := range j.Groups {
		if err := g.BroadcastEOF(ctx, outEOF); err != nil {
			return err
		}
	}

	j.cleanSession(sessionID)
	return nil
}

func (j *Joiner) cleanSession(sessionID string) {
	j.mu.Lock()
	delete(j.baseTable, sessionID)
	delete(j.allBaseReceived, sessionID)
	delete(j.baseEOFCount, sessionID)
	j.mu.Unlock()

	j.streamMu.Lock()
	delete(j.streamBuffer, sessionID)
	delete(j.streamEOFCount, sessionID)
	j.streamMu.Unlock()
}
