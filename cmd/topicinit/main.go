// Command topicinit pre-creates every Kafka topic the pipeline addresses
// before the stage binaries start consuming: open a sarama.ClusterAdmin,
// create topics, then verify each one's partition count matches what its
// consumers expect.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"

	"nrgchamp/streampipe/internal/logging"
	"nrgchamp/streampipe/internal/topology"
)

// topicSpec is one queue or exchange topic this pipeline depends on, read
// from the topology file named by TOPOLOGY_FILE.
type topicSpec struct {
	name              string
	partitions        int
	replicationFactor int
}

func main() {
	brokers := topology.GetenvCSV("BROKER_HOST", []string{"localhost:9092"})
	topologyFile := topology.Getenv("TOPOLOGY_FILE", "topology.csv")
	replication := topology.GetenvInt("TOPIC_REPLICATION", 1)

	logger, logFile := logging.Init("topicinit", "./logs", topology.Getenv("LOGGING_LEVEL", "info"))
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	specs, err := loadTopology(topologyFile, replication)
	if err != nil {
		logger.Error("topology_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	if err := ensureTopics(ctx, logger, brokers, specs); err != nil {
		logger.Error("topic_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("topic_init_complete", slog.Int("topics", len(specs)))
}

// loadTopology reads a CSV of "name,partitions" lines naming the queue
// and exchange topics the pipeline needs, falling back to an empty set
// (a no-op run) if the file is absent — topicinit is an optional
// convenience, not a hard startup dependency for the stage binaries,
// which create consumer groups against topics Kafka auto-creates anyway
// unless auto-creation is disabled on the cluster.
func loadTopology(path string, replication int) ([]topicSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var specs []topicSpec
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("topology.csv line %d: expected \"name,partitions\"", lineNo+1)
		}
		var partitions int
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &partitions); err != nil {
			return nil, fmt.Errorf("topology.csv line %d: invalid partition count: %w", lineNo+1, err)
		}
		specs = append(specs, topicSpec{
			name:              strings.TrimSpace(parts[0]),
			partitions:        partitions,
			replicationFactor: replication,
		})
	}
	return specs, nil
}

func ensureTopics(ctx context.Context, logger *slog.Logger, brokers []string, specs []topicSpec) error {
	if len(specs) == 0 {
		logger.Info("topic_init_nothing_to_do")
		return nil
	}
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	scfg := sarama.NewConfig()
	admin, err := sarama.NewClusterAdmin(brokers, scfg)
	if err != nil {
		return fmt.Errorf("new cluster admin: %w", err)
	}
	defer admin.Close()

	for _, spec := range specs {
		detail := &sarama.TopicDetail{
			NumPartitions:     int32(spec.partitions),
			ReplicationFactor: int16(spec.replicationFactor),
		}
		if err := admin.CreateTopic(spec.name, detail, false); err != nil {
			if !isAlreadyExists(err) {
				return fmt.Errorf("create topic %s: %w", spec.name, err)
			}
			logger.Info("topic_exists", slog.String("topic", spec.name))
		} else {
			logger.Info("topic_created", slog.String("topic", spec.name))
		}
	}

	metadata, err := admin.DescribeTopics(topicNames(specs))
	if err != nil {
		return fmt.Errorf("describe topics: %w", err)
	}
	byName := make(map[string]*sarama.TopicMetadata, len(metadata))
	for _, m := range metadata {
		byName[m.Name] = m
	}
	for _, spec := range specs {
		m, ok := byName[spec.name]
		if !ok {
			return fmt.Errorf("topic %s missing from describe response", spec.name)
		}
		if len(m.Partitions) != spec.partitions {
			return fmt.Errorf("topic %s has %d partitions; expected %d", spec.name, len(m.Partitions), spec.partitions)
		}
		logger.Info("topic_ready", slog.String("topic", spec.name), slog.Int("partitions", len(m.Partitions)))
	}
	return nil
}

func topicNames(specs []topicSpec) []string {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.name
	}
	return names
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}
