package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"nrgchamp/streampipe/internal/circuitbreaker"
)

// Queue is an exclusive point-to-point endpoint: a Kafka topic consumed by a
// shared consumer group so every worker process naming the same queue
// load-balances the partitions between them, reproducing RabbitMQ-style
// "exclusive queue, sends load-balanced across consumers". Grounded on
// go-hyperforge's pkg/messaging/adapters/kafka producer (a
// sarama.SyncProducer wrapping Publish), generalized with a
// sarama.ConsumerGroup for the receive side the reference adapter doesn't
// cover.
type Queue struct {
	name    string
	brokers []string

	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	buildErr error

	logger *slog.Logger

	sendBreaker  *circuitbreaker.Breaker
	fetchBreaker *circuitbreaker.Breaker

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

func saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// NewQueue opens a Queue endpoint named name (used verbatim as both the
// Kafka topic and the shared consumer group id).
func NewQueue(cfg Config, name string) *Queue {
	logger := cfg.logger().With(slog.String("queue", name))
	q := &Queue{
		name:         name,
		brokers:      cfg.Brokers,
		logger:       logger,
		sendBreaker:  circuitbreaker.New("queue-send:"+name, cfg.Breaker, logger),
		fetchBreaker: circuitbreaker.New("queue-fetch:"+name, cfg.Breaker, logger),
	}

	scfg := saramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		q.buildErr = fmt.Errorf("new sync producer for %s: %w", name, err)
		return q
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, name, scfg)
	if err != nil {
		_ = producer.Close()
		q.buildErr = fmt.Errorf("new consumer group for %s: %w", name, err)
		return q
	}
	q.producer = producer
	q.group = group
	return q
}

// Send implements Endpoint.
func (q *Queue) Send(ctx context.Context, frame []byte) error {
	if q.buildErr != nil {
		return q.buildErr
	}
	return q.sendBreaker.Execute(ctx, func(context.Context) error {
		_, _, err := q.producer.SendMessage(&sarama.ProducerMessage{
			Topic: q.name,
			Value: sarama.ByteEncoder(frame),
		})
		return err
	})
}

// queueConsumerHandler adapts a Queue's onMessage callback to
// sarama.ConsumerGroupHandler: every claimed message is delivered to
// onMessage, and only marked (committed) when it returns nil.
type queueConsumerHandler struct {
	queue     *Queue
	onMessage func([]byte) error
}

func (queueConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (queueConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h queueConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.onMessage(msg.Value); err != nil {
			h.queue.logger.Warn("queue_message_nacked", slog.Any("err", err))
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsuming implements Endpoint. Sarama's ConsumerGroup.Consume
// returns whenever the group rebalances, so this is a loop re-entering
// Consume until the context is cancelled.
func (q *Queue) StartConsuming(ctx context.Context, onMessage func([]byte) error) error {
	if q.buildErr != nil {
		return q.buildErr
	}

	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		cancel()
		return nil
	}
	q.cancel = cancel
	q.mu.Unlock()
	defer cancel()

	handler := queueConsumerHandler{queue: q, onMessage: onMessage}

	go func() {
		for err := range q.group.Errors() {
			q.logger.Error("queue_consumer_group_error", slog.Any("err", err))
		}
	}()

	for {
		err := q.fetchBreaker.Execute(ctx, func(ctx context.Context) error {
			return q.group.Consume(ctx, []string{q.name}, handler)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return fmt.Errorf("broker: %w", err)
			}
			q.logger.Error("queue_consume_error", slog.Any("err", err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// StopConsuming implements Endpoint.
func (q *Queue) StopConsuming() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.stopped = true
		if q.cancel != nil {
			q.cancel()
		}
	}
	return nil
}

// Delete implements Endpoint: removes the backing topic so no orphaned
// server-side resource survives a graceful shutdown.
func (q *Queue) Delete(ctx context.Context) error {
	if len(q.brokers) == 0 {
		return nil
	}
	admin, err := sarama.NewClusterAdmin(q.brokers, saramaConfig())
	if err != nil {
		return fmt.Errorf("new cluster admin for delete: %w", err)
	}
	defer admin.Close()
	if err := admin.DeleteTopic(q.name); err != nil && !errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
		return fmt.Errorf("delete topic %s: %w", q.name, err)
	}
	return nil
}

// Close implements Endpoint.
func (q *Queue) Close() error {
	if q.buildErr != nil {
		return nil
	}
	groupErr := q.group.Close()
	producerErr := q.producer.Close()
	if groupErr != nil {
		return groupErr
	}
	return producerErr
}
