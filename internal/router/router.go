// Package router implements the session router (ingress): the per-TCP-
// connection handler that performs the client handshake, demultiplexes
// inbound record Batches to the first stage's cleaner queues, and
// multiplexes the five query-result streams back to the client.
package router

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/protocol"
)

// ErrClientDisconnected is returned when the client socket closes before
// every record kind's EOF has been received.
var ErrClientDisconnected = errors.New("router: client disconnected unexpectedly")

// ErrInvalidHandshake is returned when the handshake payload isn't the
// expected capability string.
var ErrInvalidHandshake = errors.New("router: invalid handshake payload")

// allQueriesCapability is the only handshake payload this router accepts.
const allQueriesCapability = "ALL_QUERIES"

// CleanerGroup is the set of producer endpoints for one record kind's
// first-stage cleaners, round-robin addressed as client Batches of that
// kind arrive.
type CleanerGroup struct {
	Endpoints []broker.Endpoint

	mu  sync.Mutex
	idx int
}

func (g *CleanerGroup) next() broker.Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	ep := g.Endpoints[g.idx]
	g.idx = (g.idx + 1) % len(g.Endpoints)
	return ep
}

// QueryResultSource is the expected EOF count for one query-result kind:
// the router forwards that kind's terminal EOF to the client only after
// every one of its WorkersAmount upstream output builders has reported.
type QueryResultSource struct {
	WorkersAmount int
}

// Config wires a Session to its cleaner groups, its per-session result
// endpoint, and the expected result worker counts.
type Config struct {
	NewMessageID func() string
	NewSessionID func() string

	Cleaners map[protocol.Kind]*CleanerGroup
	Results  map[protocol.Kind]QueryResultSource

	// NewResultEgress opens the per-session queue the output builders
	// publish onto, named by convention "<prefix>-<session_id>".
	NewResultEgress func(sessionID string) broker.Endpoint

	Logger *slog.Logger
}

// Session handles one accepted client connection end to end.
type Session struct {
	cfg       Config
	conn      net.Conn
	ctx       context.Context
	sessionID string
	logger    *slog.Logger

	clientEOFReceived map[protocol.Kind]bool
	resultEOFCount    map[protocol.Kind]int
}

// NewSession wraps an accepted connection.
func NewSession(cfg Config, conn net.Conn) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:               cfg,
		conn:              conn,
		logger:            logger,
		clientEOFReceived: make(map[protocol.Kind]bool, len(protocol.RecordKinds)),
		resultEOFCount:    make(map[protocol.Kind]int, len(protocol.QueryResultKinds)),
	}
}

// Run drives the full per-connection lifecycle: handshake, ingest,
// egress, then close-down. It always closes the connection and every
// result endpoint it opened before returning, mirroring the close-down
// sequence required of every stage worker. ctx governs every broker
// Send/StartConsuming call made on the session's behalf; cancelling it
// unblocks a session stuck on broker backpressure during shutdown.
func (s *Session) Run(ctx context.Context) (err error) {
	s.ctx = ctx
	defer func() {
		closeErr := s.conn.Close()
		if err == nil {
			err = closeErr
		}
	}()

	reader := bufio.NewReader(s.conn)

	if err := s.handshake(reader); err != nil {
		return fmt.Errorf("router: handshake: %w", err)
	}
	s.logger = s.logger.With(slog.String("session_id", s.sessionID))
	s.logger.Info("session_started")

	if err := s.ingestClientBatches(reader); err != nil {
		return fmt.Errorf("router: ingest: %w", err)
	}

	egress := s.cfg.NewResultEgress(s.sessionID)
	defer egress.Close()

	if err := s.streamResults(egress); err != nil {
		return fmt.Errorf("router: egress: %w", err)
	}

	s.logger.Info("session_completed")
	return nil
}

func (s *Session) handshake(reader *bufio.Reader) error {
	raw, err := readFrame(reader)
	if err != nil {
		return err
	}
	frame, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	hs, ok := frame.(protocol.Handshake)
	if !ok {
		return fmt.Errorf("%w: expected handshake, got %q", ErrInvalidHandshake, frame.Kind())
	}
	if hs.Payload != allQueriesCapability {
		return fmt.Errorf("%w: %q", ErrInvalidHandshake, hs.Payload)
	}

	s.sessionID = s.cfg.NewSessionID()
	reply := protocol.Handshake{ID: s.sessionID, Payload: hs.ID}
	_, err = io.WriteString(s.conn, reply.Encode())
	return err
}

func (s *Session) ingestClientBatches(reader *bufio.Reader) error {
	for !s.allClientEOFReceived() {
		raw, err := readFrame(reader)
		if err != nil {
			return err
		}
		frame, err := protocol.Decode(raw)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case protocol.Batch:
			if err := s.forwardBatch(f); err != nil {
				return err
			}
		case protocol.EOFFrame:
			if err := s.forwardEOF(f); err != nil {
				return err
			}
		default:
			return fmt.Errorf("router: unexpected client frame kind %q", frame.Kind())
		}
	}
	return nil
}

func (s *Session) allClientEOFReceived() bool {
	for _, k := range protocol.RecordKinds {
		if !s.clientEOFReceived[k] {
			return false
		}
	}
	return true
}

func (s *Session) forwardBatch(b protocol.Batch) error {
	group, ok := s.cfg.Cleaners[b.BatchKind]
	if !ok {
		return fmt.Errorf("router: no cleaner group configured for kind %q", b.BatchKind)
	}
	out := protocol.Batch{
		BatchKind: b.BatchKind,
		Header:    protocol.Header{SessionID: s.sessionID, MessageID: s.cfg.NewMessageID(), ProducerID: "0"},
		Records:   b.Records,
	}
	return group.next().Send(s.ctx, []byte(out.Encode()))
}

func (s *Session) forwardEOF(e protocol.EOFFrame) error {
	if _, known := s.clientEOFReceived[e.TerminatedKind]; !known {
		return fmt.Errorf("router: unexpected client eof kind %q", e.TerminatedKind)
	}
	s.clientEOFReceived[e.TerminatedKind] = true

	group, ok := s.cfg.Cleaners[e.TerminatedKind]
	if !ok {
		return fmt.Errorf("router: no cleaner group configured for kind %q", e.TerminatedKind)
	}
	for _, ep := range group.Endpoints {
		out := protocol.EOFFrame{
			Header:         protocol.Header{SessionID: s.sessionID, MessageID: s.cfg.NewMessageID(), ProducerID: "0"},
			TerminatedKind: e.TerminatedKind,
		}
		if err := ep.Send(s.ctx, []byte(out.Encode())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) streamResults(egress broker.Endpoint) error {
	return egress.StartConsuming(s.ctx, func(raw []byte) error {
		frame, err := protocol.Decode(string(raw))
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case protocol.Batch:
			_, err := io.WriteString(s.conn, f.Encode())
			return err
		case protocol.EOFFrame:
			return s.handleResultEOF(egress, f)
		default:
			return fmt.Errorf("router: unexpected output builder frame kind %q", frame.Kind())
		}
	})
}

func (s *Session) handleResultEOF(egress broker.Endpoint, e protocol.EOFFrame) error {
	source, ok := s.cfg.Results[e.TerminatedKind]
	if !ok {
		return fmt.Errorf("router: unexpected result eof kind %q", e.TerminatedKind)
	}
	s.resultEOFCount[e.TerminatedKind]++
	if s.resultEOFCount[e.TerminatedKind] == source.WorkersAmount {
		if _, err := io.WriteString(s.conn, e.Encode()); err != nil {
			return err
		}
	}
	if s.allResultEOFReceived() {
		return egress.StopConsuming()
	}
	return nil
}

func (s *Session) allResultEOFReceived() bool {
	for kind, source := range s.cfg.Results {
		if s.resultEOFCount[kind] < source.WorkersAmount {
			return false
		}
	}
	return true
}

// readFrame reads bytes from the client connection until a complete
// frame (terminated by the protocol's payload-end byte) has been seen,
// returning just that frame's text.
func readFrame(reader *bufio.Reader) (string, error) {
	frame, err := reader.ReadString(']')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrClientDisconnected
		}
		return "", err
	}
	return frame, nil
}
