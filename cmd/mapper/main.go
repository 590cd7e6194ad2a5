// Command mapper runs one replica of the mapper stage: it derives a new
// column from an existing timestamp-shaped column (year, or half-year
// bucket) and forwards the augmented record, holding no per-session
// state.
package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/stages"
	"nrgchamp/streampipe/internal/topology"
)

func buildDerive(kind, sourceColumn, targetColumn string) stages.DeriveFunc {
	switch kind {
	case "year":
		return func(rec protocol.Record) protocol.Record {
			out := rec.Clone()
			if v, ok := rec.Get(sourceColumn); ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					out.Set(targetColumn, strconv.Itoa(t.Year()))
				}
			}
			return out
		}
	case "half_year":
		return func(rec protocol.Record) protocol.Record {
			out := rec.Clone()
			if v, ok := rec.Get(sourceColumn); ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					half := 1
					if t.Month() > 6 {
						half = 2
					}
					out.Set(targetColumn, fmt.Sprintf("%d-H%d", t.Year(), half))
				}
			}
			return out
		}
	default:
		return func(rec protocol.Record) protocol.Record { return rec }
	}
}

func main() {
	boot, err := cmdutil.Start("mapper")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "mapper-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "mapper-out")
	mapperKind := strings.ToLower(topology.Getenv("MAPPER_KIND", "year"))
	sourceColumn := topology.Getenv("MAPPER_SOURCE_COLUMN", "")
	targetColumn := topology.Getenv("MAPPER_TARGET_COLUMN", "")

	handler := &stages.Mapper{Derive: buildDerive(mapperKind, sourceColumn, targetColumn)}

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
	boot.Logger.Info("mapper_started", slog.String("controller_id", controllerID), slog.String("mapper_kind", mapperKind))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("mapper_runtime_error", slog.Any("err", err))
	}
}
