// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bartekus/commitver/cmd/commitver/internal/clierr"
	"github.com/bartekus/commitver/internal/classifier"
	"github.com/bartekus/commitver/internal/config"
	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/ledger"
	"github.com/bartekus/commitver/internal/runner"
	"github.com/bartekus/commitver/internal/source"
	"github.com/bartekus/commitver/internal/telemetry"
)

// app holds the global flag values and the collaborators built from them.
type app struct {
	configPath  string
	logLevel    string
	logFormat   string
	trace       bool
	metricsFile string

	logger      *slog.Logger
	metrics     *telemetry.Metrics
	stopTracing func(context.Context) error

	cfg    *config.Config
	loaded bool
}

// setup builds the logger, metrics and tracing before any command runs.
func (a *app) setup(cmd *cobra.Command) error {
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), a.logLevel, a.logFormat)
	if err != nil {
		return clierr.Usage(err)
	}
	a.logger = logger
	a.metrics = telemetry.NewMetrics()

	if a.trace {
		stop, err := telemetry.SetupTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a.stopTracing = stop
	}
	return nil
}

// finish flushes spans and writes the metrics textfile. It is safe to call
// more than once.
func (a *app) finish(ctx context.Context) error {
	var errs []error
	if a.stopTracing != nil {
		errs = append(errs, a.stopTracing(context.WithoutCancel(ctx)))
		a.stopTracing = nil
	}
	if a.metricsFile != "" {
		errs = append(errs, a.metrics.WriteTextfile(a.metricsFile))
		a.metricsFile = ""
	}
	return errors.Join(errs...)
}

// withFinish makes sure telemetry is flushed even when run fails, since
// Cobra skips post-run hooks after an error.
func (a *app) withFinish(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if ferr := a.finish(cmd.Context()); ferr != nil {
			a.logger.Warn("flushing telemetry failed", "error", ferr)
		}
		return err
	}
}

// config loads the configuration once. Failures are usage errors.
func (a *app) config() (config.Config, error) {
	if a.loaded {
		return *a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, clierr.Usage(err)
	}
	a.cfg, a.loaded = &cfg, true
	a.logger.Debug("configuration loaded", "path", cfg.Path, "repos", len(cfg.Repos))
	return cfg, nil
}

// deps bundles what tracking and replay need.
type deps struct {
	cfg        config.Config
	source     *source.Client
	classifier *classifier.Classifier
	store      *ledger.Store
	state      *runner.StateStore
}

func (a *app) deps() (*deps, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	src, err := source.NewClient(cfg.SourceOptions(),
		source.WithLogger(a.logger),
		source.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, clierr.Usage(err)
	}
	cls, err := a.classifier(cfg)
	if err != nil {
		return nil, err
	}
	return &deps{
		cfg:        cfg,
		source:     src,
		classifier: cls,
		store:      ledger.NewStore(cfg.LedgerDir),
		state:      runner.NewStateStore(cfg.StateDir),
	}, nil
}

func (a *app) classifier(cfg config.Config) (*classifier.Classifier, error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, clierr.Usage(fmt.Errorf("classifier backend: %w", err))
	}
	return classifier.New(backend, cfg.ClassifierOptions(),
		classifier.WithLogger(a.logger),
		classifier.WithMetrics(a.metrics),
	), nil
}

func (a *app) engineOptions(cfg config.Config) []engine.Option {
	return []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithStoredDiffChars(cfg.Classifier.StoredDiffChars),
	}
}

// trackJobs builds one tracking job per selected repository.
func (a *app) trackJobs(d *deps, names []string, opts engine.TrackOptions) ([]runner.Job, error) {
	targets, err := d.cfg.Targets(names)
	if err != nil {
		return nil, clierr.Usage(err)
	}
	if len(targets) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "no repositories configured; add repos to commitver.yaml or name them as arguments")
	}
	tracker := engine.NewTracker(d.source, d.classifier, d.store, a.engineOptions(d.cfg)...)

	jobs := make([]runner.Job, 0, len(targets))
	for _, t := range targets {
		jobs = append(jobs, &runner.TrackJob{Tracker: tracker, Target: t, Options: opts})
	}
	return jobs, nil
}

func (a *app) newRunner(d *deps, jobs []runner.Job, cmd *cobra.Command) *runner.Runner {
	return runner.NewRunner(jobs, d.state, cmd.OutOrStdout(),
		runner.WithConcurrency(d.cfg.Concurrency),
		runner.WithLogger(a.logger),
	)
}
