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

// Exchange is a pub/sub topic endpoint addressed by routing key
// "<prefix>.<producer_index>". The producer side writes to the partition
// matching producer_index (via sarama's manual partitioner); the consumer
// side reads that single partition directly with a plain sarama.Consumer
// (no consumer group), so every subscriber bound to that routing key sees
// every message independently, reproducing "one consumer per routing key".
type Exchange struct {
	topic     string
	partition int32
	brokers   []string

	producer sarama.SyncProducer
	pconsume sarama.PartitionConsumer
	buildErr error

	logger *slog.Logger

	sendBreaker  *circuitbreaker.Breaker
	fetchBreaker *circuitbreaker.Breaker

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// RoutingKeyPartition computes the deterministic partition index a routing
// key "<prefix>.<producer_index>" maps to, given the topic's partition count.
func RoutingKeyPartition(producerIndex, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	return producerIndex % partitionCount
}

// NewExchangeProducer opens the writer half of an Exchange endpoint,
// pinned to the partition addressed by producerIndex.
func NewExchangeProducer(cfg Config, topic string, producerIndex, partitionCount int) *Exchange {
	partition := int32(RoutingKeyPartition(producerIndex, partitionCount))
	logger := cfg.logger().With(slog.String("exchange", topic), slog.Int("partition", int(partition)))
	e := &Exchange{
		topic:       topic,
		partition:   partition,
		brokers:     cfg.Brokers,
		logger:      logger,
		sendBreaker: circuitbreaker.New("exchange-send:"+topic, cfg.Breaker, logger),
	}

	scfg := saramaConfig()
	scfg.Producer.Partitioner = sarama.NewManualPartitioner
	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		e.buildErr = fmt.Errorf("new sync producer for exchange %s: %w", topic, err)
		return e
	}
	e.producer = producer
	return e
}

// NewExchangeConsumer opens the reader half of an Exchange endpoint, bound
// to the single partition addressed by producerIndex.
func NewExchangeConsumer(cfg Config, topic string, producerIndex, partitionCount int) *Exchange {
	partition := int32(RoutingKeyPartition(producerIndex, partitionCount))
	logger := cfg.logger().With(slog.String("exchange", topic), slog.Int("partition", int(partition)))
	e := &Exchange{
		topic:        topic,
		partition:    partition,
		brokers:      cfg.Brokers,
		logger:       logger,
		fetchBreaker: circuitbreaker.New("exchange-fetch:"+topic, cfg.Breaker, logger),
		stopCh:       make(chan struct{}),
	}

	consumer, err := sarama.NewConsumer(cfg.Brokers, saramaConfig())
	if err != nil {
		e.buildErr = fmt.Errorf("new consumer for exchange %s: %w", topic, err)
		return e
	}
	pc, err := consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
	if err != nil {
		_ = consumer.Close()
		e.buildErr = fmt.Errorf("consume partition %d of %s: %w", partition, topic, err)
		return e
	}
	e.pconsume = pc
	return e
}

// Send implements Endpoint.
func (e *Exchange) Send(ctx context.Context, frame []byte) error {
	if e.buildErr != nil {
		return e.buildErr
	}
	if e.producer == nil {
		return errors.New("broker: exchange endpoint is consumer-only")
	}
	return e.sendBreaker.Execute(ctx, func(context.Context) error {
		_, _, err := e.producer.SendMessage(&sarama.ProducerMessage{
			Topic:     e.topic,
			Partition: e.partition,
			Value:     sarama.ByteEncoder(frame),
		})
		return err
	})
}

// StartConsuming implements Endpoint. Since this is a direct partition
// reader with no consumer group, there is no offset to commit; a non-nil
// return from onMessage is logged but otherwise has no broker-level effect
// beyond the caller (e.g. the joiner) explicitly re-sending the frame.
func (e *Exchange) StartConsuming(ctx context.Context, onMessage func([]byte) error) error {
	if e.buildErr != nil {
		return e.buildErr
	}
	if e.pconsume == nil {
		return errors.New("broker: exchange endpoint is producer-only")
	}

	for {
		select {
		case <-e.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case consumerErr, ok := <-e.pconsume.Errors():
			if !ok {
				return nil
			}
			if errors.Is(consumerErr, circuitbreaker.ErrOpen) {
				return fmt.Errorf("broker: %w", consumerErr)
			}
			e.logger.Error("exchange_fetch_error", slog.Any("err", consumerErr))
		case msg, ok := <-e.pconsume.Messages():
			if !ok {
				return nil
			}
			if cbErr := onMessage(msg.Value); cbErr != nil {
				e.logger.Warn("exchange_message_nacked", slog.Any("err", cbErr))
			}
		}
	}
}

// StopConsuming implements Endpoint.
func (e *Exchange) StopConsuming() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		e.stopped = true
		close(e.stopCh)
	}
	return nil
}

// Delete implements Endpoint. Exchange topics are shared by every routing
// key bound to them, so a single subscriber unsubscribing never deletes the
// topic; this is a no-op by design.
func (e *Exchange) Delete(ctx context.Context) error { return nil }

// Close implements Endpoint.
func (e *Exchange) Close() error {
	if e.buildErr != nil {
		return nil
	}
	var producerErr, consumerErr error
	if e.producer != nil {
		producerErr = e.producer.Close()
	}
	if e.pconsume != nil {
		consumerErr = e.pconsume.Close()
	}
	if producerErr != nil {
		return producerErr
	}
	return consumerErr
}
