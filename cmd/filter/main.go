// Command filter runs one replica of the filter stage: it applies the
// predicate named by FILTER_KIND, parameterized by the config's
// MinFinalAmount/MinHour/MaxHour/YearsToKeep knobs rather than a
// hardcoded query condition, and forwards only surviving records.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/config"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/stage"
	"nrgchamp/streampipe/internal/stages"
	"nrgchamp/streampipe/internal/topology"
)

func buildPredicate(kind, column string, cfg config.Config) stages.Predicate {
	switch kind {
	case "min_final_amount":
		return func(rec protocol.Record) bool {
			v, ok := rec.Get(column)
			if !ok {
				return false
			}
			f, err := strconv.ParseFloat(v, 64)
			return err == nil && f >= cfg.MinFinalAmount
		}
	case "hour_range":
		return func(rec protocol.Record) bool {
			v, ok := rec.Get(column)
			if !ok {
				return false
			}
			h, err := strconv.Atoi(v)
			return err == nil && h >= cfg.MinHour && h <= cfg.MaxHour
		}
	case "years_to_keep":
		cutoff := time.Now().Year() - cfg.YearsToKeep
		return func(rec protocol.Record) bool {
			v, ok := rec.Get(column)
			if !ok {
				return false
			}
			y, err := strconv.Atoi(v)
			return err == nil && y >= cutoff
		}
	default:
		return func(protocol.Record) bool { return true }
	}
}

func main() {
	boot, err := cmdutil.Start("filter")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	controllerID := strconv.Itoa(boot.Cfg.ControllerID)

	inputPrefix := topology.Getenv("INPUT_PREFIX", "filter-in")
	outputPrefix := topology.Getenv("OUTPUT_PREFIX", "filter-out")
	filterKind := topology.Getenv("FILTER_KIND", "")
	filterColumn := topology.Getenv("FILTER_COLUMN", "")

	handler := &stages.Filter{Predicate: buildPredicate(filterKind, filterColumn, boot.Cfg)}

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
	boot.Logger.Info("filter_started", slog.String("controller_id", controllerID), slog.String("filter_kind", filterKind))
	if err := runtime.Run(boot.Ctx); err != nil {
		boot.Logger.Error("filter_runtime_error", slog.Any("err", err))
	}
}
