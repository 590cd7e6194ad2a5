// Command reducer runs one replica of the reducer stage: it accumulates
// one value per GROUP_COLUMNS key tuple across a whole session and emits
// the aggregated rows only once that session's EOF barrier closes.
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

func buildReduce(kind, sourceColumn string) stages.ReduceFunc {
	switch kind {
	case "sum":
		return func(current float64, rec protocol.Record) float64 {
			v, ok := rec.Get(sourceColumn)
			if !ok {
				return current
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return current
			}
			return current + f
		}
	case "count":
		return func(current float64, rec protocol.Record) float64 { return current + 1 }
	default:
		return func(current float64, rec protocol.Record) float64 { return current }
	}
}

func main() {
	boot, err := cmdutil.Start("reducer")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "reducer-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "reducer-out")
	groupColumns := topology.GetenvCSV("GROUP_COLUMNS", nil)
	accumulatorColumn := topology.Getenv("ACCUMULATOR_COLUMN", "total")
	reduceKind := strings.ToLower(topology.Getenv("REDUCE_KIND", "sum"))
	reduceSourceColumn := topology.Getenv("REDUCE_SOURCE_COLUMN", "")
	outputKind := protocol.Kind(topology.Getenv("OUTPUT_KIND", string(protocol.KindQuery1X)))
	outputPolicy := strings.ToLower(topology.Getenv("OUTPUT_POLICY", "sharded"))

	handler := &stages.Reducer{
		GroupColumns:      groupColumns,
		AccumulatorColumn: accumulatorColumn,
		Reduce:            buildReduce(reduceKind, reduceSourceColumn),
		BatchMaxSize:      boot.Cfg.BatchMaxSize,
		OutputKind:        outputKind,
	}

	var group *stage.ProducerGroup
	if outputPolicy == "broadcast" {
		group = cmdutil.BuildBroadcastGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount)
	} else if outputPolicy == "sharded" && len(groupColumns) > 0 {
		group = cmdutil.BuildShardedGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount, groupColumns[0])
	} else {
		group = cmdutil.BuildOwnQueueGroup(brokerCfg, outputPrefix, controllerID, stage.RoundRobin)
	}

	runtime := stage.NewRuntime(stage.Config{
		ControllerID:          controllerID,
		Consumers:             cmdutil.BuildConsumers(brokerCfg, inputPrefix, boot.Cfg.PrevControllersAmount),
		Groups:                []*stage.ProducerGroup{group},
		PrevControllersAmount: boot.Cfg.PrevControllersAmount,
		TrackDedup:            true,
		NewMessageID:          ids.New,
		Logger:                boot.Logger,
	}, handler)

	boot.MarkReady()
	boot.Logger.Info("reducer_started", slog.String("controller_id", controllerID), slog.Any("group_columns", groupColumns))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("reducer_runtime_error", slog.Any("err", err))
	}
}
