// Package orchestrator drives each entity through the harvest pipeline and keeps
// the checkpoint current across batches, interruptions and restarts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contact-harvester/internal/checkpoint"
	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/report"
)

// FetchScheduler executes fetch tasks and releases per-entity state.
type FetchScheduler interface {
	Fetch(ctx context.Context, task harvest.FetchTask) harvest.FetchOutcome
	Release(entityID string)
}

// CheckpointStore persists whole checkpoint snapshots.
type CheckpointStore interface {
	Load(ctx context.Context) (*checkpoint.Checkpoint, bool, error)
	Save(ctx context.Context, cp *checkpoint.Checkpoint) error
}

// Extractor finds candidate addresses in a page body.
type Extractor interface {
	Extract(sourceURL string, body []byte) []harvest.CandidateEmail
}

// Discoverer picks contact-page candidates from a homepage.
type Discoverer interface {
	Discover(baseURL string, body []byte) []string
}

// Ranker orders candidates best first.
type Ranker interface {
	Rank(candidates []harvest.CandidateEmail) []harvest.CandidateEmail
}

// Config holds pipeline policy constants.
type Config struct {
	// BatchSize is the number of entities between checkpoint saves.
	BatchSize int
	// EntityConcurrency bounds entity pipelines running at once within a batch.
	EntityConcurrency int
	// MaxContactPages caps contact-candidate fetches per entity.
	MaxContactPages int
	// MaxCandidates caps the ranked candidate list kept on each result.
	MaxCandidates int
}

// DefaultConfig returns the stock pipeline policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:         50,
		EntityConcurrency: 10,
		MaxContactPages:   5,
		MaxCandidates:     3,
	}
}

// Dependencies bundles the collaborators the orchestrator drives.
type Dependencies struct {
	Source     harvest.NameSource
	Store      CheckpointStore
	Scheduler  FetchScheduler
	Extractor  Extractor
	Discoverer Discoverer
	Ranker     Ranker
	Sinks      []harvest.ResultSink
	Reporter   *progress.Reporter
	Clock      harvest.Clock
	RunID      string
	Logger     *zap.Logger
}

// Orchestrator runs a resumable harvest.
type Orchestrator struct {
	cfg     Config
	deps    Dependencies
	log     *zap.Logger
	current atomic.Pointer[checkpoint.Checkpoint]
}

// New validates dependencies and returns an Orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.EntityConcurrency <= 0 {
		cfg.EntityConcurrency = def.EntityConcurrency
	}
	if cfg.MaxContactPages < 0 {
		cfg.MaxContactPages = 0
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator requires a checkpoint store")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("orchestrator requires a scheduler")
	case deps.Extractor == nil || deps.Discoverer == nil || deps.Ranker == nil:
		return nil, fmt.Errorf("orchestrator requires an extractor, discoverer and ranker")
	case deps.Clock == nil:
		return nil, fmt.Errorf("orchestrator requires a clock")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: logger.Named("orchestrator")}, nil
}

// Run processes every pending entity. On cancellation it stops dispatching,
// lets in-flight pipelines finish, saves, and returns an error wrapping ctx.Err().
// A checkpoint save failure is fatal and aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (report.Summary, error) {
	started := time.Now()
	cp, err := o.prepare(ctx)
	if err != nil {
		return report.Summary{}, err
	}

	o.current.Store(cp)

	pending := cp.Pending()
	done, total := cp.Progress()
	o.log.Info("harvest starting",
		zap.String("run_id", cp.RunID()),
		zap.Int("total", total),
		zap.Int("already_completed", done),
		zap.Int("pending", len(pending)),
		zap.Int("batch_size", o.cfg.BatchSize),
	)
	o.deps.Reporter.RunStarted(len(pending))

	recorded := 0
	for offset := 0; offset < len(pending); offset += o.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		batch := pending[offset:min(offset+o.cfg.BatchSize, len(pending))]
		n, batchErr := o.runBatch(ctx, cp, batch)
		recorded += n

		// The batch is saved even when cancellation interrupted it.
		if err := o.save(ctx, cp); err != nil {
			return report.Summary{}, err
		}
		if batchErr != nil {
			return report.Summary{}, batchErr
		}
		completed, _ := cp.Progress()
		o.log.Info("batch complete",
			zap.Int("batch_start", offset),
			zap.Int("batch_len", len(batch)),
			zap.Int("recorded", n),
			zap.Int("completed", completed),
			zap.Int("total", total),
		)
	}

	interrupted := ctx.Err()
	if interrupted != nil {
		if err := o.save(ctx, cp); err != nil {
			return report.Summary{}, err
		}
	}
	results := cp.Results()
	summary := report.Summarize(total, results)
	o.export(ctx, results)

	note := ""
	if interrupted != nil {
		note = "interrupted"
	}
	o.deps.Reporter.RunDone(recorded, time.Since(started), note)
	if interrupted != nil {
		o.log.Warn("harvest interrupted", zap.Int("recorded", recorded), zap.Int("pending", summary.Pending()))
		return summary, fmt.Errorf("harvest interrupted: %w", interrupted)
	}
	o.log.Info("harvest finished", zap.Int("recorded", recorded), zap.Duration("elapsed", time.Since(started)))
	return summary, nil
}

// Checkpoint returns the checkpoint of the active run, or nil before it is loaded.
func (o *Orchestrator) Checkpoint() *checkpoint.Checkpoint {
	return o.current.Load()
}

// prepare loads the checkpoint, or builds and persists one from the name source.
func (o *Orchestrator) prepare(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, found, err := o.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if found {
		return cp, nil
	}
	if o.deps.Source == nil {
		return nil, fmt.Errorf("no checkpoint found and no name source configured")
	}
	entities, err := o.deps.Source.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	cp = checkpoint.New(o.deps.RunID, entities)
	o.log.Info("fresh checkpoint created", zap.Int("entities", len(cp.Entities())))
	if err := o.save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, cp *checkpoint.Checkpoint, batch []harvest.Entity) (int, error) {
	var g errgroup.Group
	g.SetLimit(o.cfg.EntityConcurrency)

	var recorded atomic.Int64
	for _, entity := range batch {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := time.Now()
			result, ok := o.process(ctx, entity)
			if !ok {
				o.log.Debug("entity interrupted; left pending", zap.String("entity_id", entity.ID))
				return nil
			}
			if err := cp.Record(result); err != nil {
				return fmt.Errorf("record %s: %w", entity.ID, err)
			}
			o.deps.Reporter.EntityDone(result, time.Since(start))
			recorded.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(recorded.Load()), err
}

func (o *Orchestrator) save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	start := time.Now()
	if err := o.deps.Store.Save(context.WithoutCancel(ctx), cp); err != nil {
		o.log.Error("checkpoint save failed", zap.Error(err))
		return fmt.Errorf("save checkpoint: %w", err)
	}
	completed, _ := cp.Progress()
	o.deps.Reporter.CheckpointSaved(completed, time.Since(start))
	return nil
}

func (o *Orchestrator) export(ctx context.Context, results []harvest.Result) {
	if len(o.deps.Sinks) == 0 {
		return
	}
	exportCtx := context.WithoutCancel(ctx)
	for _, sink := range o.deps.Sinks {
		if err := sink.Write(exportCtx, results); err != nil {
			o.log.Error("export failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		o.log.Info("results exported", zap.String("sink", sink.Name()), zap.Int("count", len(results)))
	}
}

// pipeline tracks one entity's walk through the state machine.
type pipeline struct {
	o      *Orchestrator
	entity harvest.Entity
	state  harvest.EntityState
	log    *zap.Logger
}

func (p *pipeline) advance(next harvest.EntityState) {
	if !harvest.CanTransition(p.state, next) {
		p.log.Warn("illegal state transition", zap.String("from", string(p.state)), zap.String("to", string(next)))
		return
	}
	p.state = next
	p.o.deps.Reporter.EntityState(p.entity.ID, next)
}

func (p *pipeline) fetch(ctx context.Context, rawURL string, role harvest.PageRole) harvest.FetchOutcome {
	return p.o.deps.Scheduler.Fetch(ctx, harvest.FetchTask{
		URL:      rawURL,
		EntityID: p.entity.ID,
		Role:     role,
		Attempt:  1,
	})
}

// process runs the entity pipeline. ok is false when cancellation interrupted
// the pipeline, in which case nothing is recorded.
func (o *Orchestrator) process(ctx context.Context, entity harvest.Entity) (harvest.Result, bool) {
	defer o.deps.Scheduler.Release(entity.ID)

	p := &pipeline{
		o:      o,
		entity: entity,
		state:  harvest.StatePending,
		log:    o.log.With(zap.String("entity_id", entity.ID)),
	}
	o.deps.Reporter.EntityStarted(entity)
	result := harvest.NewResult(entity)

	p.advance(harvest.StateFetchingHomepage)
	if entity.SeedURL == "" {
		return o.partial(p, result, "homepage: no seed url"), true
	}
	home := p.fetch(ctx, entity.SeedURL, harvest.RoleHomepage)
	if home.Status == harvest.StatusCanceled {
		return result, false
	}
	if !home.OK() {
		return o.partial(p, result, "homepage "+home.Describe()), true
	}
	result.Website = home.FinalURL

	p.advance(harvest.StateDiscoveringContacts)
	links := o.deps.Discoverer.Discover(home.FinalURL, home.Body)
	if len(links) > o.cfg.MaxContactPages {
		links = links[:o.cfg.MaxContactPages]
	}

	p.advance(harvest.StateFetchingContacts)
	pages := []harvest.FetchOutcome{home}
	for _, link := range links {
		out := p.fetch(ctx, link, harvest.RoleContact)
		switch {
		case out.Status == harvest.StatusCanceled:
			return result, false
		case out.OK():
			pages = append(pages, out)
		default:
			p.log.Debug("contact page skipped", zap.String("url", link), zap.String("outcome", out.Describe()))
		}
	}

	p.advance(harvest.StateExtracting)
	lists := make([][]harvest.CandidateEmail, 0, len(pages))
	for _, page := range pages {
		lists = append(lists, o.deps.Extractor.Extract(page.FinalURL, page.Body))
	}
	merged := extract.Merge(lists...)
	ranked := o.deps.Ranker.Rank(merged)

	result.EmailsFound = len(merged)
	if len(ranked) > 0 {
		result.BestEmail = ranked[0].Address
		result.Candidates = ranked[:min(len(ranked), o.cfg.MaxCandidates)]
	}
	result.CompletedAt = o.deps.Clock.Now()
	p.advance(harvest.StateCompleted)
	p.log.Debug("entity completed",
		zap.String("website", result.Website),
		zap.String("best_email", result.BestEmail),
		zap.Int("emails_found", result.EmailsFound),
		zap.Int("pages", len(pages)),
	)
	return result, true
}

func (o *Orchestrator) partial(p *pipeline, result harvest.Result, reason string) harvest.Result {
	result.Error = reason
	result.CompletedAt = o.deps.Clock.Now()
	p.advance(harvest.StateCompleted)
	p.log.Info("entity completed without homepage", zap.String("reason", reason))
	return result
}

// IsInterrupted reports whether err came from Run stopping on cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
