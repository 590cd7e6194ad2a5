// Command outputbuilder runs one replica of the output builder stage: it
// projects each result Batch onto RESULT_COLUMNS, retags it with
// OUTPUT_KIND, and writes it to a private per-session egress queue the
// session router reads back from, naming it by session id so both sides
// agree without a registry.
package main

import (
	"log/slog"
	"strconv"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/stages"
	"nrgchamp/streampipe/internal/topology"
)

func main() {
	boot, err := cmdutil.Start("outputbuilder")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "outputbuilder-in")
	resultPrefix := topology.Getenv("RESULT_QUEUE_PREFIX", "result")
	columns := topology.GetenvCSV("RESULT_COLUMNS", nil)
	resultKind := protocol.Kind(topology.Getenv("OUTPUT_KIND", string(protocol.KindQuery1X)))

	handler := &stages.OutputBuilder{
		Columns:    columns,
		ResultKind: resultKind,
		NewEgress: func(sessionID string) broker.Endpoint {
			return broker.NewQueue(brokerCfg, topology.QueueName(resultPrefix, sessionID))
		},
	}

	runtime := stage.NewRuntime(stage.Config{
		ControllerID:          controllerID,
		Consumers:             cmdutil.BuildConsumers(brokerCfg, inputPrefix, boot.Cfg.PrevControllersAmount),
		Groups:                nil,
		PrevControllersAmount: boot.Cfg.PrevControllersAmount,
		TrackDedup:            false,
		NewMessageID:          ids.New,
		Logger:                boot.Logger,
	}, handler)

	boot.MarkReady()
	boot.Logger.Info("outputbuilder_started", slog.String("controller_id", controllerID), slog.String("result_kind", string(resultKind)))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("outputbuilder_runtime_error", slog.Any("err", err))
	}
}
