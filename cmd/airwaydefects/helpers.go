package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
	"airwaydefects/internal/logging"
	"airwaydefects/pkg/config"
	"airwaydefects/pkg/store"
	"airwaydefects/pkg/telemetry"
)

// session holds what every workflow command needs
type session struct {
	cfg      *config.Config
	app      *app.App
	metrics  *telemetry.Metrics
	store    *store.Store
	closeLog func() error
}

// loadConfig reads the configuration file and applies the flags that were
// set on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cmd, cfg)
	return cfg, nil
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Output.LogLevel = rootFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Output.LogFormat = rootFlags.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Output.LogFile = rootFlags.logFile
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile = rootFlags.metricsFile
	}
	if flags.Changed("db") {
		cfg.Output.Database = rootFlags.dbPath
	}
	if flags.Changed("cores") {
		cfg.Processing.NumCores = rootFlags.cores
	}
	if flags.Changed("seed") {
		cfg.Processing.Seed = rootFlags.seed
	}
}

// openSession configures logging, telemetry and the results database
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return nil, err
	}
	closeLog, err := logging.Setup(level, cfg.Output.LogFormat, cfg.Output.LogFile)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, metrics: telemetry.New(), closeLog: closeLog}
	if cfg.Output.Database != "" {
		if s.store, err = store.Open(cfg.Output.Database); err != nil {
			_ = closeLog()
			return nil, err
		}
	}

	if s.app, err = app.New(cfg, s.metrics, s.store); err != nil {
		_ = s.close()
		return nil, err
	}
	slog.Debug("configuration loaded", "config", rootFlags.configPath, "workers", cfg.Workers())
	return s, nil
}

// close writes the telemetry file and releases the database and log file
func (s *session) close() error {
	var errs []error
	if path := s.cfg.Output.MetricsFile; path != "" {
		errs = append(errs, s.metrics.WriteTextfile(path))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.closeLog())
	return errors.Join(errs...)
}

// finish closes the session and combines its error with the workflow error
func (s *session) finish(runErr error) error {
	if err := s.close(); err != nil {
		if runErr == nil {
			return err
		}
		slog.Error("failed to close session", "error", err)
	}
	return runErr
}

// requireFlag reports a missing mandatory directory or file flag
func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
