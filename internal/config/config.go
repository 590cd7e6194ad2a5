// Package config loads stage configuration by layering defaults, an
// optional .properties file, and finally environment variables on top,
// mirroring the teacher's internal/config.Load(): koanf/v2 with a file
// provider and an env provider merging over a defaults layer, validated
// once fully unmarshalled.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/properties"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// Config captures the settings shared by every stage binary. Stage-
// specific parameters (column lists, predicates, join keys) are supplied
// separately by cmd wiring, not loaded here.
type Config struct {
	// LoggingLevel is one of debug, info, warn, error.
	LoggingLevel string `koanf:"logging_level"`
	// ControllerID is this worker instance's stable integer identity.
	ControllerID int `koanf:"controller_id"`
	// BrokerHost is the broker bootstrap address list (comma-separated).
	BrokerHost string `koanf:"broker_host"`
	// PrevControllersAmount is the expected upstream EOF count.
	PrevControllersAmount int `koanf:"prev_controllers_amount"`
	// NextControllersAmount is the downstream fan-out width.
	NextControllersAmount int `koanf:"next_controllers_amount"`
	// MinFinalAmount, MinHour, MaxHour, YearsToKeep parameterize
	// query-specific filter predicates without hardcoding them here.
	MinFinalAmount float64 `koanf:"min_final_amount"`
	MinHour        int     `koanf:"min_hour"`
	MaxHour        int     `koanf:"max_hour"`
	YearsToKeep    int     `koanf:"years_to_keep"`
	// BatchMaxSize bounds reducer/sorter flush batch sizes.
	BatchMaxSize int `koanf:"batch_max_size"`
	// BaseDataPrevControllersAmount and StreamDataPrevControllersAmount
	// are the joiner's two independent barrier thresholds.
	BaseDataPrevControllersAmount   int `koanf:"base_data_prev_controllers_amount"`
	StreamDataPrevControllersAmount int `koanf:"stream_data_prev_controllers_amount"`

	PropertiesPath string `koanf:"-"`
}

const (
	defaultLoggingLevel          = "info"
	defaultBrokerHost            = "localhost:9092"
	defaultPrevControllersAmount = 1
	defaultNextControllersAmount = 1
	defaultBatchMaxSize          = 100
	defaultPropsPath             = "stage.properties"
	propertiesPathEnv            = "STAGE_PROPERTIES_PATH"
)

// ErrEmptyBrokerHost is returned when broker_host resolves to an empty
// string after all layers are applied.
var ErrEmptyBrokerHost = errors.New("broker_host must not be empty")

// knownKeys is the allowlist of environment variables the env provider
// overlays onto the properties-file/defaults layers; everything else in
// the process environment is ignored.
var knownKeys = []string{
	"LOGGING_LEVEL", "CONTROLLER_ID", "BROKER_HOST",
	"PREV_CONTROLLERS_AMOUNT", "NEXT_CONTROLLERS_AMOUNT",
	"MIN_FINAL_AMOUNT", "MIN_HOUR", "MAX_HOUR", "YEARS_TO_KEEP",
	"BATCH_MAX_SIZE", "BASE_DATA_PREV_CONTROLLERS_AMOUNT",
	"STREAM_DATA_PREV_CONTROLLERS_AMOUNT",
}

// Load resolves Config by layering defaults, an optional properties file,
// then environment variables, each field independently overridable.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}

	propsPath := strings.TrimSpace(os.Getenv(propertiesPathEnv))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}

	if err := k.Load(file.Provider(propsPath), properties.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load properties file %s: %w", propsPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyMapper), nil); err != nil {
		return Config{}, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := Config{}
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PropertiesPath = propsPath

	if cfg.BrokerHost == "" {
		return Config{}, ErrEmptyBrokerHost
	}

	return cfg, nil
}

// envKeyMapper restricts the env overlay to knownKeys and lowercases the
// match so it lines up with the lowercase koanf tags above; env vars
// outside the allowlist map to an empty key, which Unmarshal then ignores
// since no struct field carries an empty koanf tag.
func envKeyMapper(key string) string {
	for _, k := range knownKeys {
		if k == key {
			return strings.ToLower(key)
		}
	}
	return ""
}

// loadDefaults sets the base layer every other provider merges over.
func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"logging_level":           defaultLoggingLevel,
		"broker_host":             defaultBrokerHost,
		"prev_controllers_amount": defaultPrevControllersAmount,
		"next_controllers_amount": defaultNextControllersAmount,
		"batch_max_size":          defaultBatchMaxSize,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}
