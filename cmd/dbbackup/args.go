// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/dbbackup/config"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

type commandLineArgs struct {
	configPath  string
	rawDate     string
	date        time.Time
	window      time.Duration
	every       time.Duration
	mongoURL    string
	sourceDB    string
	backupDB    string
	metricsAddr string
	metricsFile string
	logFile     string
	logConfig   string

	// set holds the names of the flags given on the command line.
	set map[string]bool
}

func parseArgs(args []string) (commandLineArgs, error) {
	flags := gnuflag.NewFlagSet("dbbackup", gnuflag.ContinueOnError)
	var a commandLineArgs
	flags.StringVar(&a.configPath, "config", "", "YAML file holding the backup settings")
	flags.StringVar(&a.rawDate, "date", "", "end of the backup window (RFC3339 or YYYY-MM-DD, default now)")
	flags.DurationVar(&a.window, "window", 0, "length of the backup window")
	flags.DurationVar(&a.every, "every", 0, "run repeatedly, waiting this long between runs")
	flags.StringVar(&a.mongoURL, "mongo-url", "", "mongodb:// URL of the server (default $"+config.MongoURLEnvKey+")")
	flags.StringVar(&a.sourceDB, "source-db", "", "database to back up")
	flags.StringVar(&a.backupDB, "backup-db", "", "database receiving the backup")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "address serving prometheus metrics")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "file receiving prometheus metrics after every run")
	flags.StringVar(&a.logFile, "log-file", "", "rotated log file (default stderr)")
	flags.StringVar(&a.logConfig, "log-config", "", "logging configuration, e.g. <root>=DEBUG")
	if err := flags.Parse(true, args); err != nil {
		return commandLineArgs{}, errors.Trace(err)
	}
	if extra := flags.Args(); len(extra) > 0 {
		return commandLineArgs{}, errors.Errorf("unrecognised arguments: %q", extra)
	}
	a.set = make(map[string]bool)
	flags.Visit(func(f *gnuflag.Flag) {
		a.set[f.Name] = true
	})
	if a.rawDate != "" {
		date, err := parseDate(a.rawDate)
		if err != nil {
			return commandLineArgs{}, errors.Trace(err)
		}
		a.date = date
	}
	return a, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NotValidf("date %q", s)
}

// loadConfig reads the config file, if any, then applies the command
// line overrides and the environment. A fixed --date is rejected when
// runs are scheduled.
func loadConfig(a commandLineArgs, lookupEnv func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.ReadFile(a.configPath); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	overrides := map[string]func(){
		"window":       func() { cfg.Window = a.window },
		"every":        func() { cfg.ScheduleInterval = a.every },
		"mongo-url":    func() { cfg.MongoURL = a.mongoURL },
		"source-db":    func() { cfg.SourceDB = a.sourceDB },
		"backup-db":    func() { cfg.BackupDB = a.backupDB },
		"metrics-addr": func() { cfg.MetricsAddress = a.metricsAddr },
		"log-file":     func() { cfg.LogFile = a.logFile },
		"log-config":   func() { cfg.LogConfig = a.logConfig },
	}
	for name, apply := range overrides {
		if a.set[name] {
			apply()
		}
	}
	cfg.ApplyEnvironment(lookupEnv)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Trace(err)
	}
	// Scheduled runs always end at the time they start.
	if a.set["date"] && cfg.ScheduleInterval > 0 {
		return config.Config{}, errors.NewNotValid(nil, "--date cannot be used with a schedule")
	}
	return cfg, nil
}
