// Package app initializes and holds long-lived harvester services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/checkpoint"
	"github.com/JakeFAU/contact-harvester/internal/clock/system"
	"github.com/JakeFAU/contact-harvester/internal/config"
	"github.com/JakeFAU/contact-harvester/internal/discover"
	"github.com/JakeFAU/contact-harvester/internal/export"
	"github.com/JakeFAU/contact-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/contact-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/hash/sha256"
	"github.com/JakeFAU/contact-harvester/internal/id/uuid"
	"github.com/JakeFAU/contact-harvester/internal/ledger"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/namesource"
	"github.com/JakeFAU/contact-harvester/internal/orchestrator"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/progress/sinks"
	"github.com/JakeFAU/contact-harvester/internal/rank"
	"github.com/JakeFAU/contact-harvester/internal/report"
	"github.com/JakeFAU/contact-harvester/internal/scheduler"
	"github.com/JakeFAU/contact-harvester/internal/server"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
)

// ErrNoCheckpoint is returned by commands that need an existing checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Options carries optional overrides, mostly for tests.
type Options struct {
	// Fetcher replaces the colly fetch service.
	Fetcher harvest.Fetcher
	// Registerer receives the progress collectors; defaults to the global registry.
	Registerer prometheus.Registerer
	Clock      harvest.Clock
	IDs        harvest.IDGenerator
}

// App holds the services shared by every command. Pipeline services
// (fetcher, ledger, scheduler, progress hub) are only built by Run.
type App struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger
	clock  harvest.Clock
	runID  string

	checkpoints *local.Store
	store       *checkpoint.FileStore

	fetcher   *collyfetcher.Fetcher
	redis     *redis.Client
	hub       *progress.Hub
	scheduler *scheduler.Scheduler
	postgres  *export.Postgres
	orch      *orchestrator.Orchestrator
}

// New builds the checkpoint store and run identity.
func New(cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	ids := opts.IDs
	if ids == nil {
		ids = uuid.NewUUIDGenerator()
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	files, err := local.New(local.Config{BaseDir: cfg.Checkpoint.Dir})
	if err != nil {
		return nil, fmt.Errorf("init checkpoint dir: %w", err)
	}
	store, err := checkpoint.NewFileStore(files, cfg.Checkpoint.File, clock, logger.Named("checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	return &App{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		clock:       clock,
		runID:       runID,
		checkpoints: files,
		store:       store,
	}, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// CheckpointPath is the on-disk location of the checkpoint file.
func (a *App) CheckpointPath() string {
	return filepath.Join(a.checkpoints.BaseDir(), a.store.Name())
}

// Run harvests every pending entity, resuming from the checkpoint when one exists.
// An interrupted run returns its partial summary together with an error for which
// orchestrator.IsInterrupted reports true.
func (a *App) Run(ctx context.Context) (report.Summary, error) {
	resultRunID, err := a.peekRunID(ctx)
	if err != nil {
		return report.Summary{}, err
	}
	if resultRunID == "" {
		resultRunID = a.runID
	}

	reporter, err := a.buildProgress()
	if err != nil {
		return report.Summary{}, err
	}
	visited, err := a.buildLedger(ctx)
	if err != nil {
		return report.Summary{}, err
	}
	resultSinks, err := a.buildSinks(ctx, resultRunID)
	if err != nil {
		return report.Summary{}, err
	}

	var fetcher harvest.Fetcher = a.opts.Fetcher
	if fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:      a.cfg.Fetch.UserAgent,
			RespectRobots:  a.cfg.Fetch.RespectRobots,
			ConnectTimeout: a.cfg.Fetch.ConnectTimeout,
			TotalTimeout:   a.cfg.Fetch.TotalTimeout,
			MaxBodyBytes:   a.cfg.Fetch.MaxBodyBytes,
		})
		fetcher = a.fetcher
	}
	pacer := ratelimit.New(ratelimit.Config{Interval: a.cfg.Fetch.ContactPageDelay, Burst: 1})
	a.scheduler = scheduler.New(
		scheduler.Config{
			Concurrency: a.cfg.Fetch.Concurrency,
			QueueDepth:  a.cfg.Fetch.QueueDepth,
			TaskTimeout: a.cfg.Fetch.TotalTimeout,
		},
		fetcher,
		visited,
		pacer,
		reporter,
		a.logger.Named("scheduler"),
	)
	a.scheduler.Start()

	scope, err := discover.ParseScope(a.cfg.Discover.Scope)
	if err != nil {
		return report.Summary{}, fmt.Errorf("discover scope: %w", err)
	}

	var source harvest.NameSource
	if a.cfg.Source.Path != "" {
		source = namesource.File{
			Path:   a.cfg.Source.Path,
			Format: a.cfg.Source.Format,
			Limit:  a.cfg.Source.Limit,
			Logger: a.logger.Named("source"),
		}
	}

	orch, err := orchestrator.New(
		orchestrator.Config{
			BatchSize:         a.cfg.Harvest.BatchSize,
			EntityConcurrency: a.cfg.Harvest.EntityConcurrency,
			MaxContactPages:   a.cfg.Harvest.MaxContactPages,
			MaxCandidates:     a.cfg.Harvest.MaxCandidates,
		},
		orchestrator.Dependencies{
			Source:    source,
			Store:     a.store,
			Scheduler: a.scheduler,
			Extractor: extract.New(extract.Config{
				ExcludeSubstrings:  a.cfg.Extract.ExcludeSubstrings,
				PlaceholderDomains: a.cfg.Extract.PlaceholderDomains,
				ExcludeSuffixes:    a.cfg.Extract.ExcludeSuffixes,
			}),
			Discoverer: discover.New(discover.Config{
				Keywords:        a.cfg.Discover.Keywords,
				LocaleKeywords:  a.cfg.Discover.LocaleKeywords,
				MaxLinks:        a.cfg.Discover.MaxLinks,
				Scope:           scope,
				ExcludePatterns: a.cfg.Discover.ExcludePatterns,
				FallbackPaths:   a.cfg.Discover.FallbackPaths,
			}),
			Ranker:   rank.New(a.cfg.Rank.Keywords),
			Sinks:    resultSinks,
			Reporter: reporter,
			Clock:    a.clock,
			RunID:    resultRunID,
			Logger:   a.logger,
		},
	)
	if err != nil {
		return report.Summary{}, fmt.Errorf("init orchestrator: %w", err)
	}
	a.orch = orch

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		serveCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		defer stop()
		srv := server.New(a, a.logger.Named("server"))
		go func() {
			if err := srv.ListenAndServe(serveCtx, addr); err != nil {
				a.logger.Error("operator listener failed", zap.Error(err))
			}
		}()
	}

	return orch.Run(ctx)
}

// Progress implements server.ProgressSource.
func (a *App) Progress() (server.Progress, bool) {
	if a.orch == nil {
		return server.Progress{}, false
	}
	cp := a.orch.Checkpoint()
	if cp == nil {
		return server.Progress{}, false
	}
	done, total := cp.Progress()
	return server.Progress{RunID: cp.RunID(), Completed: done, Total: total, Pending: total - done}, true
}

// Export writes the checkpoint's results to every configured sink.
func (a *App) Export(ctx context.Context) (int, error) {
	cp, found, err := a.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w at %s", ErrNoCheckpoint, a.CheckpointPath())
	}
	resultSinks, err := a.buildSinks(ctx, cp.RunID())
	if err != nil {
		return 0, err
	}
	if len(resultSinks) == 0 {
		return 0, fmt.Errorf("no export formats configured")
	}
	results := cp.Results()
	multi := export.Multi{Sinks: resultSinks, Logger: a.logger.Named("export")}
	if err := multi.Write(ctx, results); err != nil {
		return 0, fmt.Errorf("export results: %w", err)
	}
	return len(results), nil
}

// Status summarizes the checkpoint without fetching anything.
func (a *App) Status(ctx context.Context) (string, report.Summary, error) {
	cp, found, err := a.store.Load(ctx)
	if err != nil {
		return "", report.Summary{}, err
	}
	if !found {
		return "", report.Summary{}, fmt.Errorf("%w at %s", ErrNoCheckpoint, a.CheckpointPath())
	}
	_, total := cp.Progress()
	return cp.RunID(), report.Summarize(total, cp.Results()), nil
}

// Close gracefully shuts down the services the App started.
func (a *App) Close() {
	a.logger.Debug("shutting down application services")
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

// peekRunID returns the run ID recorded in an existing checkpoint, or "".
func (a *App) peekRunID(ctx context.Context) (string, error) {
	data, err := a.checkpoints.Read(ctx, a.store.Name())
	if errors.Is(err, local.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint: %w", err)
	}
	cp, _, err := checkpoint.Decode(data)
	if err != nil {
		return "", fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp.RunID(), nil
}

func (a *App) buildProgress() (*progress.Reporter, error) {
	raw := uuid.Parse(a.runID)
	if !a.cfg.Progress.Enabled {
		return progress.NewReporter(nil, raw, a.clock), nil
	}
	var progressSinks []progress.Sink
	if a.cfg.Progress.LogEvents {
		progressSinks = append(progressSinks, sinks.NewLogSink(a.logger.Named("progress")))
	}
	if a.cfg.Progress.Prometheus {
		promSink, err := sinks.NewPrometheusSink(a.opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("init prometheus progress sink: %w", err)
		}
		progressSinks = append(progressSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchEvents,
		MaxBatchWait:   a.cfg.Progress.BatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	}, progressSinks...)
	return progress.NewReporter(a.hub, raw, a.clock), nil
}

// buildLedger scopes the visited-URL ledger to this process, so a resumed run
// never inherits URLs marked by the interrupted one.
func (a *App) buildLedger(ctx context.Context) (harvest.Ledger, error) {
	if a.cfg.Ledger.Backend != config.LedgerRedis {
		return ledger.NewMemory(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Ledger.Redis.Addr,
		Password: a.cfg.Ledger.Redis.Password,
		DB:       a.cfg.Ledger.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	visited, err := ledger.NewRedis(a.redis, sha256.New(), ledger.RedisConfig{
		RunID: a.runID,
		TTL:   a.cfg.Ledger.Redis.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis ledger: %w", err)
	}
	a.logger.Info("using redis ledger", zap.String("addr", a.cfg.Ledger.Redis.Addr))
	return visited, nil
}

func (a *App) buildSinks(ctx context.Context, runID string) ([]harvest.ResultSink, error) {
	formats := a.cfg.Export.Formats
	var out []harvest.ResultSink

	if slices.ContainsFunc(formats, func(f string) bool { return f != config.FormatPostgres }) {
		files, err := local.New(local.Config{BaseDir: a.cfg.Export.Dir})
		if err != nil {
			return nil, fmt.Errorf("init export dir: %w", err)
		}
		for _, f := range formats {
			switch f {
			case config.FormatCSV:
				out = append(out, export.CSV{Files: files})
			case config.FormatJSON:
				out = append(out, export.JSON{Files: files})
			case config.FormatXLSX:
				out = append(out, export.XLSX{Files: files})
			}
		}
	}

	if slices.Contains(formats, config.FormatPostgres) {
		if a.postgres == nil {
			pg, err := export.NewPostgres(ctx, export.PostgresConfig{
				DSN:             a.cfg.Export.Postgres.DSN,
				Table:           a.cfg.Export.Postgres.Table,
				RunID:           runID,
				MaxConns:        a.cfg.Export.Postgres.MaxConns,
				MinConns:        a.cfg.Export.Postgres.MinConns,
				MaxConnLifetime: a.cfg.Export.Postgres.MaxConnLifetime,
			})
			if err != nil {
				return nil, err
			}
			if err := pg.EnsureSchema(ctx); err != nil {
				pg.Close()
				return nil, err
			}
			a.postgres = pg
		}
		out = append(out, a.postgres)
	}
	return out, nil
}
