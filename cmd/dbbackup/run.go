// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/dbbackup/backups"
	"github.com/juju/dbbackup/config"
	"github.com/juju/dbbackup/mongo"
	"github.com/juju/dbbackup/worker/backupscheduler"
)

var logger = loggo.GetLogger("dbbackup.cmd")

// newConnector is replaced in tests.
var newConnector = func(cfg mongo.Config) (backups.Connector, error) {
	return mongo.NewConnector(cfg)
}

// summary is written to stdout after a single run.
type summary struct {
	TimeTakenSeconds float64   `json:"timeTakenSeconds"`
	RunID            string    `json:"runId"`
	Failures         []failure `json:"failures"`
}

type failure struct {
	Collection string `json:"collection"`
	Error      string `json:"error"`
}

type errorSummary struct {
	Error string `json:"error"`
}

// Main runs the command and returns its exit code.
func Main(ctx context.Context, args []string, lookupEnv func(string) (string, bool), stdout, stderr io.Writer) int {
	a, err := parseArgs(args)
	if err != nil {
		return writeError(stdout, err)
	}
	cfg, err := loadConfig(a, lookupEnv)
	if err != nil {
		return writeError(stdout, err)
	}
	closeLog, err := setupLogging(cfg, stderr)
	if err != nil {
		return writeError(stdout, err)
	}
	defer closeLog()

	runner, metrics, err := newRunner(cfg)
	if err != nil {
		return writeError(stdout, err)
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return writeError(stdout, err)
	}
	if cfg.MetricsAddress != "" {
		stopMetrics, err := serveMetrics(cfg.MetricsAddress, registry)
		if err != nil {
			return writeError(stdout, err)
		}
		defer stopMetrics()
	}

	if cfg.ScheduleInterval > 0 {
		if err := runScheduled(ctx, runner, cfg, a.metricsFile, registry); err != nil {
			return writeError(stdout, err)
		}
		return 0
	}

	result, err := runner.Run(ctx, backups.RunArgs{Date: a.date, Window: cfg.Window})
	writeMetricsFile(a.metricsFile, registry)
	if err != nil {
		return writeError(stdout, err)
	}
	logger.Infof("backup %s: %s operations on %d collections in %s",
		result.RunID, humanize.Comma(int64(result.Operations())), len(result.Collections), result.Elapsed)
	if err := writeSummary(stdout, result); err != nil {
		fmt.Fprintf(stderr, "cannot write summary: %v\n", err)
		return 1
	}
	return 0
}

func newRunner(cfg config.Config) (*backups.Runner, *backups.Collector, error) {
	connector, err := newConnector(mongo.Config{
		URL:          cfg.MongoURL,
		SourceDB:     cfg.SourceDB,
		BackupDB:     cfg.BackupDB,
		DialTimeout:  cfg.DialTimeout,
		DialAttempts: cfg.DialAttempts,
		Clock:        clock.WallClock,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	metrics := backups.NewMetricsCollector()
	runner, err := backups.NewRunner(backups.RunnerConfig{
		Connector:         connector,
		Registry:          backups.DefaultRegistry(),
		Graph:             backups.NewGraph(cfg.GraphConfig()),
		Clock:             clock.WallClock,
		Logger:            loggo.GetLogger("dbbackup.backups"),
		Metrics:           metrics,
		CommitConcurrency: cfg.CommitConcurrency,
		InChunkSize:       cfg.InChunkSize,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return runner, metrics, nil
}

// metricsRunner writes the metrics file after every scheduled run.
type metricsRunner struct {
	backupscheduler.Runner
	path     string
	registry *prometheus.Registry
}

func (r metricsRunner) Run(ctx context.Context, args backups.RunArgs) (backups.Result, error) {
	result, err := r.Runner.Run(ctx, args)
	writeMetricsFile(r.path, r.registry)
	return result, err
}

func runScheduled(ctx context.Context, runner backupscheduler.Runner, cfg config.Config, metricsFile string, registry *prometheus.Registry) error {
	w, err := backupscheduler.NewWorker(backupscheduler.Config{
		Runner:         metricsRunner{Runner: runner, path: metricsFile, registry: registry},
		Clock:          clock.WallClock,
		Logger:         loggo.GetLogger("dbbackup.worker.backupscheduler"),
		Interval:       cfg.ScheduleInterval,
		Window:         cfg.Window,
		RunImmediately: true,
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("running backups every %s", cfg.ScheduleInterval)
	<-ctx.Done()
	logger.Infof("stopping scheduled backups")
	return errors.Trace(worker.Stop(w))
}

func setupLogging(cfg config.Config, stderr io.Writer) (func(), error) {
	var (
		out     io.Writer = stderr
		closeFn           = func() {}
	)
	if cfg.LogFile != "" {
		ljLogger := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		}
		out = ljLogger
		closeFn = func() { _ = ljLogger.Close() }
	}
	writer := loggo.NewSimpleWriter(out, logFormatter)
	if _, err := loggo.ReplaceDefaultWriter(writer); err != nil {
		return nil, errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LogConfig); err != nil {
		return nil, errors.Annotate(err, "configuring loggers")
	}
	return closeFn, nil
}

func logFormatter(entry loggo.Entry) string {
	ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %s %s %s", ts, entry.Level, entry.Module, entry.Message)
}

func serveMetrics(addr string, registry *prometheus.Registry) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotate(err, "listening for metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	logger.Debugf("serving metrics on %s", listener.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func writeMetricsFile(path string, registry *prometheus.Registry) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		logger.Warningf("cannot write metrics to %s: %v", path, err)
	}
}

func writeSummary(w io.Writer, result backups.Result) error {
	s := summary{
		TimeTakenSeconds: result.TimeTakenSeconds(),
		RunID:            result.RunID,
		Failures:         []failure{},
	}
	for _, f := range result.Failures() {
		s.Failures = append(s.Failures, failure{Collection: f.Name, Error: f.CommitErr.Error()})
	}
	return errors.Trace(json.NewEncoder(w).Encode(s))
}

func writeError(w io.Writer, err error) int {
	logger.Errorf("%v", err)
	_ = json.NewEncoder(w).Encode(errorSummary{Error: err.Error()})
	return 1
}
