// Command sorter runs one replica of the sorter stage: it keeps the
// AMOUNT_PER_GROUP best records per GROUP_COLUMN value under
// (PRIMARY_COLUMN DESC, SECONDARY_COLUMN DESC) and emits the ranked rows
// once a session's EOF barrier closes.
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

func main() {
	boot, err := cmdutil.Start("sorter")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "sorter-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "sorter-out")
	groupColumn := topology.Getenv("GROUP_COLUMN", "")
	primaryColumn := topology.Getenv("PRIMARY_COLUMN", "")
	secondaryColumn := topology.Getenv("SECONDARY_COLUMN", "")
	amountPerGroup := topology.GetenvInt("AMOUNT_PER_GROUP", 3)
	outputKind := protocol.Kind(topology.Getenv("OUTPUT_KIND", string(protocol.KindQuery21)))
	outputPolicy := strings.ToLower(topology.Getenv("OUTPUT_POLICY", "broadcast"))

	handler := &stages.Sorter{
		GroupColumn:     groupColumn,
		PrimaryColumn:   primaryColumn,
		SecondaryColumn: secondaryColumn,
		AmountPerGroup:  amountPerGroup,
		BatchMaxSize:    boot.Cfg.BatchMaxSize,
		OutputKind:      outputKind,
	}

	var group *stage.ProducerGroup
	if outputPolicy == "sharded" {
		group = cmdutil.BuildShardedGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount, groupColumn)
	} else if outputPolicy == "roundrobin" {
		group = cmdutil.BuildOwnQueueGroup(brokerCfg, outputPrefix, controllerID, stage.RoundRobin)
	} else {
		group = cmdutil.BuildBroadcastGroup(brokerCfg, outputPrefix, boot.Cfg.NextControllersAmount)
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
	boot.Logger.Info("sorter_started", slog.String("controller_id", controllerID), slog.String("group_column", groupColumn))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("sorter_runtime_error", slog.Any("err", err))
	}
}
