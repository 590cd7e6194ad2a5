// Command cleaner runs one replica of the cleaner stage: it projects every
// incoming record down to the column subset CLEANER_COLUMNS names and
// forwards the Batch unchanged in kind, holding no per-session state.
package main

import (
	"log/slog"
	"strconv"

	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/stages"
	"nrgchamp/streampipe/internal/topology"
)

func main() {
	boot, err := cmdutil.Start("cleaner")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "cleaner-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "cleaner-out")
	columns := topology.GetenvCSV("CLEANER_COLUMNS", nil)

	handler := &stages.Cleaner{Columns: columns}

	runtime := stage.NewRuntime(stage.Config{
		ControllerID:          controllerID,
		Consumers:             cmdutil.BuildConsumers(brokerCfg, inputPrefix, boot.Cfg.PrevControllersAmount),
		Groups:                []*stage.ProducerGroup{cmdutil.BuildOwnQueueGroup(brokerCfg, outputPrefix, controllerID, stage.RoundRobin)},
		PrevControllersAmount: boot.Cfg.PrevControllersAmount,
		TrackDedup:            false,
		NewMessageID:          ids.New,
		Logger:                boot.Logger,
	}, handler)

	boot.MarkReady()
	boot.Logger.Info("cleaner_started", slog.String("controller_id", controllerID), slog.Any("columns", columns))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("cleaner_runtime_error", slog.Any("err", err))
	}
}
