// Command joiner runs one replica of the joiner stage: it fully
// materializes a session's base-side records before matching the
// stream side against them on JOIN_KEY, emitting the merged rows.
package main

import (
	"log/slog"
	"strconv"
	"strings"

	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/stages"
	"nrgchamp/streampipe/internal/topology"
)

func normalizeFor(kind string) stages.NormalizeFunc {
	if kind == "numeric_trim" {
		return func(s string) string { return strings.TrimLeft(strings.TrimSpace(s), "0") }
	}
	return func(s string) string { return strings.TrimSpace(s) }
}

func main() {
	boot, err := cmdutil.Start("joiner")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	basePrefix := topology.Getenv("BASE_INPUT_PREFIX", "joiner-base-in")
	streamPrefix := topology.Getenv("STREAM_INPUT_PREFIX", "joiner-stream-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "joiner-out")
	joinKey := topology.Getenv("JOIN_KEY", "")
	normalizeKind := topology.Getenv("NORMALIZE_KIND", "")
	outputKind := protocol.Kind(topology.Getenv("OUTPUT_KIND", string(protocol.KindQuery3X)))
	outputPolicy := strings.ToLower(topology.Getenv("OUTPUT_POLICY", "broadcast"))

	baseConsumers := cmdutil.BuildConsumers(brokerCfg, basePrefix, boot.Cfg.BaseDataPrevControllersAmount)
	streamConsumers := cmdutil.BuildConsumers(brokerCfg, streamPrefix, boot.Cfg.StreamDataPrevControllersAmount)
	if len(baseConsumers) != 1 || len(streamConsumers) != 1 {
		boot.Logger.Warn("joiner_multi_producer_consumers_collapsed",
			slog.Int("base_producers", boot.Cfg.BaseDataPrevControllersAmount),
			slog.Int("stream_producers", boot.Cfg.StreamDataPrevControllersAmount))
	}

	var group *stage.ProducerGroup
	if outputPolicy == "sharded" {
		group = cmdutil.BuildShardedGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount, joinKey)
	} else if outputPolicy == "roundrobin" {
		group = cmdutil.BuildOwnQueueGroup(brokerCfg, outputPrefix, controllerID, stage.RoundRobin)
	} else {
		group = cmdutil.BuildBroadcastGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount)
	}

	joiner := &stages.Joiner{
		ControllerID:                controllerID,
		JoinKey:                     joinKey,
		Normalize:                   normalizeFor(normalizeKind),
		BaseConsumer:                baseConsumers[0],
		BasePrevControllersAmount:   boot.Cfg.BaseDataPrevControllersAmount,
		StreamConsumer:              streamConsumers[0],
		StreamPrevControllersAmount: boot.Cfg.StreamDataPrevControllersAmount,
		Groups:                      []*stage.ProducerGroup{group},
		NewMessageID:                ids.New,
		OutputKind:                  outputKind,
		Logger:                      boot.Logger,
	}

	boot.MarkReady()
	boot.Logger.Info("joiner_started", slog.String("controller_id", controllerID), slog.String("join_key", joinKey))
	if err := joiner.Run(boot.Ctx); err != nil {
		boot.Logger.Error("joiner_runtime_error", slog.Any("err", err))
	}
}
