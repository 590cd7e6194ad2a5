// Package broker adapts the generic stage runtime's send/consume needs onto
// two addressing modes over Kafka, built on github.com/IBM/sarama (the
// teacher itself has no message broker; this package's producer/consumer
// shape is grounded on go-hyperforge's pkg/messaging/adapters/kafka, the
// pack's only real sarama usage, generalized with a consumer-group side
// that reference adapter doesn't cover): an exclusive point-to-point Queue
// and a pub/sub topic Exchange addressed by routing key. Queue sends and
// fetches and Exchange sends go through a circuit breaker so a flapping
// broker fails fast instead of hanging every caller; an Exchange reader's
// partition errors are logged and do not pass through a breaker.
//
// Out-of-order EOF recovery on the joiner stage (see internal/stages/joiner)
// relies on a skipped commit being refetched in the same order it was first
// delivered; this holds for a single-partition Kafka queue under normal
// rebalancing but is not a protocol guarantee the broker itself enforces.
package broker

import (
	"context"
	"errors"
	"log/slog"

	"nrgchamp/streampipe/internal/circuitbreaker"
)

// ErrClosed is returned by Send/StartConsuming after Close has run.
var ErrClosed = errors.New("broker: endpoint closed")

// Endpoint is the uniform surface every stage's consumer and producer
// addressing mode implements.
type Endpoint interface {
	// Send transmits a single encoded frame.
	Send(ctx context.Context, frame []byte) error
	// StartConsuming blocks, invoking onMessage for every delivered frame,
	// until the context is cancelled, StopConsuming is called, or onMessage
	// returns a fatal error. A nil return from onMessage acknowledges the
	// message; a non-nil return negatively-acknowledges it (no commit).
	StartConsuming(ctx context.Context, onMessage func([]byte) error) error
	// StopConsuming causes a blocked StartConsuming to return.
	StopConsuming() error
	// Delete removes the server-side resource (topic/group); used on
	// graceful shutdown of a private (Queue-mode) consumer.
	Delete(ctx context.Context) error
	// Close releases local client resources. Does not delete server state.
	Close() error
}

// Config carries the shared broker connection parameters.
type Config struct {
	Brokers []string
	Logger  *slog.Logger
	Breaker circuitbreaker.Config
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
