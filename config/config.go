// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the settings of the backup tool from YAML.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/juju/dbbackup/backups"
)

const (
	MongoURLKey            = "mongo-url"
	SourceDBKey            = "source-db"
	BackupDBKey            = "backup-db"
	WindowKey              = "window"
	RawUnitWindowFactorKey = "raw-unit-window-factor"
	InFlightLimitKey       = "in-flight-limit"
	ReviewsLookbackKey     = "reviews-lookback"
	CommitConcurrencyKey   = "commit-concurrency"
	InChunkSizeKey         = "in-chunk-size"
	DialTimeoutKey         = "dial-timeout"
	DialAttemptsKey        = "dial-attempts"
	ScheduleIntervalKey    = "schedule-interval"
	MetricsAddressKey      = "metrics-address"
	LogFileKey             = "log-file"
	LogConfigKey           = "log-config"
)

// MongoURLEnvKey names the environment variable consulted when no
// mongo-url is configured.
const MongoURLEnvKey = "MONGO_URL"

var configChecker = schema.StrictFieldMap(
	schema.Fields{
		MongoURLKey:            schema.String(),
		SourceDBKey:            schema.String(),
		BackupDBKey:            schema.String(),
		WindowKey:              schema.TimeDurationString(),
		RawUnitWindowFactorKey: schema.ForceInt(),
		InFlightLimitKey:       schema.ForceInt(),
		ReviewsLookbackKey:     schema.TimeDurationString(),
		CommitConcurrencyKey:   schema.ForceInt(),
		InChunkSizeKey:         schema.ForceInt(),
		DialTimeoutKey:         schema.TimeDurationString(),
		DialAttemptsKey:        schema.ForceInt(),
		ScheduleIntervalKey:    schema.TimeDurationString(),
		MetricsAddressKey:      schema.String(),
		LogFileKey:             schema.String(),
		LogConfigKey:           schema.String(),
	},
	schema.Defaults{
		MongoURLKey:            "",
		SourceDBKey:            "settlin",
		BackupDBKey:            "backup",
		WindowKey:              "72h",
		RawUnitWindowFactorKey: 7,
		InFlightLimitKey:       500,
		ReviewsLookbackKey:     "2400h",
		CommitConcurrencyKey:   0,
		InChunkSizeKey:         backups.DefaultInChunkSize,
		DialTimeoutKey:         "30s",
		DialAttemptsKey:        3,
		ScheduleIntervalKey:    "0s",
		MetricsAddressKey:      "",
		LogFileKey:             "",
		LogConfigKey:           "<root>=INFO",
	},
)

// Config holds the settings of the backup tool.
type Config struct {
	MongoURL string
	SourceDB string
	BackupDB string

	// Window is the default length of a run window.
	Window              time.Duration
	RawUnitWindowFactor int
	InFlightLimit       int
	ReviewsLookback     time.Duration

	CommitConcurrency int
	InChunkSize       int

	DialTimeout  time.Duration
	DialAttempts int

	// ScheduleInterval, when positive, runs backups repeatedly.
	ScheduleInterval time.Duration

	MetricsAddress string
	LogFile        string
	LogConfig      string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg, err := New(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// New returns the configuration described by attrs, filling in defaults
// for missing keys. Unknown keys are an error.
func New(attrs map[string]interface{}) (Config, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return Config{}, errors.NotValidf("config: %v", err)
	}
	valid := coerced.(map[string]interface{})

	var cfg Config
	cfg.MongoURL = valid[MongoURLKey].(string)
	cfg.SourceDB = valid[SourceDBKey].(string)
	cfg.BackupDB = valid[BackupDBKey].(string)
	cfg.RawUnitWindowFactor = valid[RawUnitWindowFactorKey].(int)
	cfg.InFlightLimit = valid[InFlightLimitKey].(int)
	cfg.CommitConcurrency = valid[CommitConcurrencyKey].(int)
	cfg.InChunkSize = valid[InChunkSizeKey].(int)
	cfg.DialAttempts = valid[DialAttemptsKey].(int)
	cfg.MetricsAddress = valid[MetricsAddressKey].(string)
	cfg.LogFile = valid[LogFileKey].(string)
	cfg.LogConfig = valid[LogConfigKey].(string)

	for key, target := range map[string]*time.Duration{
		WindowKey:           &cfg.Window,
		ReviewsLookbackKey:  &cfg.ReviewsLookback,
		DialTimeoutKey:      &cfg.DialTimeout,
		ScheduleIntervalKey: &cfg.ScheduleInterval,
	} {
		d, err := time.ParseDuration(valid[key].(string))
		if err != nil {
			return Config{}, errors.NotValidf("%s %q", key, valid[key])
		}
		*target = d
	}
	return cfg, nil
}

// Parse reads a YAML document of settings.
func Parse(data []byte) (Config, error) {
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return Config{}, errors.Annotate(err, "parsing config")
	}
	return New(attrs)
}

// ReadFile reads the settings held in the YAML file at path.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	cfg, err := Parse(data)
	return cfg, errors.Annotatef(err, "reading %s", path)
}

// ApplyEnvironment fills the mongo URL from the environment when it was
// not configured.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) {
	if c.MongoURL != "" {
		return
	}
	if url, ok := lookup(MongoURLEnvKey); ok {
		c.MongoURL = url
	}
}

// Validate returns an error if the settings cannot drive a backup.
func (c Config) Validate() error {
	if c.MongoURL == "" {
		return errors.NotValidf("empty %s (set it or $%s)", MongoURLKey, MongoURLEnvKey)
	}
	if c.SourceDB == "" || c.BackupDB == "" {
		return errors.NotValidf("empty database name")
	}
	if c.SourceDB == c.BackupDB {
		return errors.NotValidf("%s %q same as %s", BackupDBKey, c.BackupDB, SourceDBKey)
	}
	if c.Window <= 0 {
		return errors.NotValidf("%s %v", WindowKey, c.Window)
	}
	if c.RawUnitWindowFactor < 1 {
		return errors.NotValidf("%s %d", RawUnitWindowFactorKey, c.RawUnitWindowFactor)
	}
	if c.InChunkSize < 1 {
		return errors.NotValidf("%s %d", InChunkSizeKey, c.InChunkSize)
	}
	if c.DialAttempts < 1 {
		return errors.NotValidf("%s %d", DialAttemptsKey, c.DialAttempts)
	}
	for key, v := range map[string]int{
		InFlightLimitKey:     c.InFlightLimit,
		CommitConcurrencyKey: c.CommitConcurrency,
	} {
		if v < 0 {
			return errors.NotValidf("negative %s", key)
		}
	}
	for key, d := range map[string]time.Duration{
		ReviewsLookbackKey:  c.ReviewsLookback,
		DialTimeoutKey:      c.DialTimeout,
		ScheduleIntervalKey: c.ScheduleInterval,
	} {
		if d < 0 {
			return errors.NotValidf("negative %s", key)
		}
	}
	return nil
}

// GraphConfig returns the tunables of the reference graph.
func (c Config) GraphConfig() backups.GraphConfig {
	return backups.GraphConfig{
		RawUnitWindowFactor: c.RawUnitWindowFactor,
		InFlightLimit:       c.InFlightLimit,
		ReviewsLookback:     c.ReviewsLookback,
	}
}
