package cmdutil

import (
	"strconv"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/topology"
)

// BuildConsumers opens one Queue endpoint per upstream producer instance
// (0..n-1) feeding prefix, matching the broker adapter's
// "<prefix>-<producer_id>.q" convention: every upstream producer instance
// owns its own exclusive topic, and this stage's replicas load-balance
// its partitions via the shared per-topic consumer group.
func BuildConsumers(brokerCfg broker.Config, prefix string, n int) []broker.Endpoint {
	out := make([]broker.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, broker.NewQueue(brokerCfg, topology.QueueName(prefix, strconv.Itoa(i))))
	}
	return out
}

// BuildOwnQueueGroup builds the RoundRobin/Broadcast producer group a
// stage uses when every one of its own replicas owns a single exclusive
// outbound queue (named by its own controller id) that the downstream
// stage's replicas load-balance across as a shared consumer group.
func BuildOwnQueueGroup(brokerCfg broker.Config, prefix, ownControllerID string, policy stage.PolicyKind) *stage.ProducerGroup {
	return &stage.ProducerGroup{
		Endpoints: []broker.Endpoint{broker.NewQueue(brokerCfg, topology.QueueName(prefix, ownControllerID))},
		Policy:    policy,
	}
}

// BuildShardedGroup builds a KeySharded producer group addressing n
// downstream shard-exclusive queues, one per shard index, for stages
// (reducer, sorter, joiner) whose downstream partitioning must be
// deterministic per key rather than load-balanced.
func BuildShardedGroup(brokerCfg broker.Config, prefix string, n int, shardColumn string) *stage.ProducerGroup {
	endpoints := make([]broker.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		endpoints = append(endpoints, broker.NewQueue(brokerCfg, topology.QueueName(prefix, strconv.Itoa(i))))
	}
	return &stage.ProducerGroup{Endpoints: endpoints, Policy: stage.KeySharded, ShardColumn: shardColumn}
}

// BuildBroadcastGroup builds a Broadcast producer group fanning every
// emitted Batch and EOF out to n downstream exclusive queues (used when
// every downstream replica must independently see the full stream, e.g.
// a join's base side materializing identically at every shard).
func BuildBroadcastGroup(brokerCfg broker.Config, prefix string, n int) *stage.ProducerGroup {
	endpoints := make([]broker.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		endpoints = append(endpoints, broker.NewQueue(brokerCfg, topology.QueueName(prefix, strconv.Itoa(i))))
	}
	return &stage.ProducerGroup{Endpoints: endpoints, Policy: stage.Broadcast}
}

// BuildExchangeConsumer opens an Exchange reader bound to the partition
// addressed by producerIndex, for stages that subscribe to a broadcast
// pub/sub topic rather than a point-to-point queue (e.g. a query-result
// stream with multiple independent output-builder replicas that must each
// see every record).
func BuildExchangeConsumer(brokerCfg broker.Config, prefix string, producerIndex, partitionCount int) broker.Endpoint {
	return broker.NewExchangeConsumer(brokerCfg, topology.ExchangeName(prefix), producerIndex, partitionCount)
}

// BuildExchangeProducer opens the writer half of an Exchange endpoint
// pinned to producerIndex's partition.
func BuildExchangeProducer(brokerCfg broker.Config, prefix string, producerIndex, partitionCount int) broker.Endpoint {
	return broker.NewExchangeProducer(brokerCfg, topology.ExchangeName(prefix), producerIndex, partitionCount)
}
