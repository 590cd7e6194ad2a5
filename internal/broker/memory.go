package broker

import (
	"context"
	"sync"
)

// MemoryEndpoint is an in-process, channel-backed Endpoint used by stage
// and router tests so they can exercise the real dispatch/fan-out/barrier
// logic without a live Kafka cluster. It has no third-party equivalent in
// the example pack (sarama ships no in-memory broker fake outside its
// internal mocks package), so it is intentionally built on stdlib channels
// rather than the broker stack.
type MemoryEndpoint struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	stopCh  chan struct{}
	stopped bool
}

// NewMemoryEndpoint returns a ready-to-use in-process endpoint with the
// given channel buffer depth.
func NewMemoryEndpoint(buffer int) *MemoryEndpoint {
	return &MemoryEndpoint{ch: make(chan []byte, buffer), stopCh: make(chan struct{})}
}

// Send implements Endpoint.
func (m *MemoryEndpoint) Send(ctx context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	select {
	case m.ch <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming implements Endpoint.
func (m *MemoryEndpoint) StartConsuming(ctx context.Context, onMessage func([]byte) error) error {
	for {
		select {
		case <-m.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-m.ch:
			if !ok {
				return nil
			}
			_ = onMessage(frame)
		}
	}
}

// StopConsuming implements Endpoint.
func (m *MemoryEndpoint) StopConsuming() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	return nil
}

// Delete implements Endpoint.
func (m *MemoryEndpoint) Delete(ctx context.Context) error { return nil }

// Close implements Endpoint.
func (m *MemoryEndpoint) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
