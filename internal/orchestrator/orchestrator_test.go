package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/checkpoint"
	"github.com/JakeFAU/contact-harvester/internal/clock/system"
	"github.com/JakeFAU/contact-harvester/internal/discover"
	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/ledger"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/rank"
	"github.com/JakeFAU/contact-harvester/internal/scheduler"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type page struct {
	status int
	body   string
	err    error
}

// site is a fake fetch service serving canned pages; unknown URLs are 404s.
type site struct {
	mu    sync.Mutex
	pages map[string]page
	calls []string
	hook  func(url string)
}

func newSite() *site {
	return &site{pages: make(map[string]page)}
}

func (s *site) add(url, body string) {
	s.pages[url] = page{body: body}
}

func (s *site) Fetch(_ context.Context, rawURL string) (harvest.FetchResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, rawURL)
	p, ok := s.pages[rawURL]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if !ok {
		return harvest.FetchResponse{URL: rawURL, FinalURL: rawURL, StatusCode: 404}, nil
	}
	if p.err != nil {
		return harvest.FetchResponse{}, p.err
	}
	status := p.status
	if status == 0 {
		status = 200
	}
	return harvest.FetchResponse{URL: rawURL, FinalURL: rawURL, StatusCode: status, Body: []byte(p.body)}, nil
}

func (s *site) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *site) count(url string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == url {
			n++
		}
	}
	return n
}

type staticSource []harvest.Entity

func (s staticSource) Entities(context.Context) ([]harvest.Entity, error) {
	return s, nil
}

// flakyStore fails the Nth save.
type flakyStore struct {
	CheckpointStore
	failOn int
	saves  atomic.Int32
	err    error
}

func (f *flakyStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if int(f.saves.Add(1)) == f.failOn {
		return f.err
	}
	return f.CheckpointStore.Save(ctx, cp)
}

type recordingSink struct {
	mu      sync.Mutex
	results []harvest.Result
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Write(_ context.Context, results []harvest.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = results
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func newFileStore(t *testing.T, dir string) *checkpoint.FileStore {
	t.Helper()
	files, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	store, err := checkpoint.NewFileStore(files, "", system.NewFixed(epoch), zap.NewNop())
	require.NoError(t, err)
	return store
}

type options struct {
	cfg      Config
	source   harvest.NameSource
	sinks    []harvest.ResultSink
	reporter *progress.Reporter
}

func newOrchestrator(t *testing.T, fetcher harvest.Fetcher, store CheckpointStore, opts options) *Orchestrator {
	t.Helper()
	sched := scheduler.New(
		scheduler.Config{Concurrency: 4, TaskTimeout: time.Second},
		fetcher, ledger.NewMemory(), nil, opts.reporter, zap.NewNop(),
	)
	sched.Start()
	t.Cleanup(sched.Close)

	cfg := opts.cfg
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	o, err := New(cfg, Dependencies{
		Source:     opts.source,
		Store:      store,
		Scheduler:  sched,
		Extractor:  extract.New(extract.DefaultConfig()),
		Discoverer: discover.New(discover.DefaultConfig()),
		Ranker:     rank.New(nil),
		Sinks:      opts.sinks,
		Reporter:   opts.reporter,
		Clock:      system.NewFixed(epoch),
		RunID:      "run-1",
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return o
}

// universities builds n entities, each with a homepage linking to a contact page.
func universities(s *site, n int) []harvest.Entity {
	out := make([]harvest.Entity, 0, n)
	for i := range n {
		seed := fmt.Sprintf("https://uni%03d.edu/", i)
		s.add(seed, `<html><body><a href="/contact">Contact</a></body></html>`)
		s.add(seed+"contact", fmt.Sprintf(`<p>Office: international@uni%03d.edu</p>`, i))
		out = append(out, harvest.Entity{
			ID:      fmt.Sprintf("uni-%03d", i),
			Name:    fmt.Sprintf("University %03d", i),
			Country: "USA",
			SeedURL: seed,
		})
	}
	return out
}

func TestRunDiscoversAndRanks(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.add("https://alpha.edu/", `<html><body>
		<p>Write to dean@alpha.edu</p>
		<a href="/about">About us</a>
		<a href="/news">News</a>
		<a href="https://other.edu/contact">Elsewhere</a>
		<a href="/contact">Contact</a>
	</body></html>`)
	s.add("https://alpha.edu/about", `<p>Reach admissions (at) alpha (dot) edu</p>`)
	s.add("https://alpha.edu/contact", `<a href="mailto:international@alpha.edu">Intl</a> noreply@alpha.edu`)

	entity := harvest.Entity{ID: "alpha", Name: "Alpha University", Country: "USA", SeedURL: "https://alpha.edu/"}
	sink := &recordingSink{}
	emitter := &recordingEmitter{}
	o := newOrchestrator(t, s, newFileStore(t, t.TempDir()), options{
		source:   staticSource{entity},
		sinks:    []harvest.ResultSink{sink},
		reporter: progress.NewReporter(emitter, [16]byte{}, system.NewFixed(epoch)),
	})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://alpha.edu/", "https://alpha.edu/about", "https://alpha.edu/contact"}, s.Calls())
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.WithEmail)

	require.Len(t, sink.results, 1)
	res := sink.results[0]
	assert.Equal(t, "https://alpha.edu/", res.Website)
	assert.Equal(t, "admissions@alpha.edu", res.BestEmail)
	assert.Equal(t, []string{"admissions@alpha.edu", "international@alpha.edu", "dean@alpha.edu"}, res.Addresses())
	assert.Equal(t, 3, res.EmailsFound)
	assert.True(t, res.Candidates[1].FromMailto)
	assert.Empty(t, res.Error)
	assert.Equal(t, epoch, res.CompletedAt)

	assert.Equal(t, 1, emitter.count(progress.StageEntityDone))
	assert.Equal(t, 5, emitter.count(progress.StageEntityState))
	assert.Equal(t, 3, emitter.count(progress.StageFetchDone))
	assert.Equal(t, 2, emitter.count(progress.StageCheckpointSave))
}

func TestHomepageTimeoutCompletesPartial(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.pages["https://slow.edu/"] = page{err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)}
	entity := harvest.Entity{ID: "slow", Name: "Slow University", SeedURL: "https://slow.edu/"}
	emitter := &recordingEmitter{}

	o := newOrchestrator(t, s, newFileStore(t, t.TempDir()), options{
		source:   staticSource{entity, {ID: "noseed", Name: "No Seed"}},
		reporter: progress.NewReporter(emitter, [16]byte{}, nil),
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://slow.edu/"}, s.Calls())
	assert.Equal(t, 2, summary.Partial)
	assert.Equal(t, 2, emitter.count(progress.StageEntityPartial))
}

func TestHomepageFailureAnnotations(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.pages["https://gone.edu/"] = page{status: 410}
	s.pages["https://down.edu/"] = page{err: errors.New("connection refused")}
	dir := t.TempDir()
	store := newFileStore(t, dir)

	o := newOrchestrator(t, s, store, options{source: staticSource{
		{ID: "gone", Name: "Gone", SeedURL: "https://gone.edu/"},
		{ID: "down", Name: "Down", SeedURL: "https://down.edu/"},
		{ID: "noseed", Name: "No Seed"},
	}})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	cp, found, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	results := cp.Results()
	require.Len(t, results, 3)
	assert.Equal(t, "homepage http-error: status 410", results[0].Error)
	assert.Contains(t, results[1].Error, "homepage network-error")
	assert.Equal(t, "homepage: no seed url", results[2].Error)
	for _, r := range results {
		assert.Empty(t, r.Website)
		assert.Empty(t, r.BestEmail)
	}
}

func TestContactPagesAreCappedAndFailuresTolerated(t *testing.T) {
	t.Parallel()

	s := newSite()
	home := `<html><body>`
	for i := range 8 {
		home += fmt.Sprintf(`<a href="/contact-%d">Contact %d</a>`, i, i)
	}
	s.add("https://many.edu/", home+`</body></html>`)
	s.pages["https://many.edu/contact-0"] = page{status: 500}
	s.add("https://many.edu/contact-1", `info@many.edu`)
	s.add("https://many.edu/contact-5", `never@many.edu`)

	cfg := DefaultConfig()
	cfg.MaxContactPages = 3
	o := newOrchestrator(t, s, newFileStore(t, t.TempDir()), options{
		cfg:    cfg,
		source: staticSource{{ID: "many", Name: "Many", SeedURL: "https://many.edu/"}},
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, s.Calls(), 4)
	assert.Zero(t, s.count("https://many.edu/contact-5"))
	assert.Equal(t, 1, summary.WithEmail)
	assert.Zero(t, summary.Partial)
}

func TestCandidatesAreCapped(t *testing.T) {
	t.Parallel()

	s := newSite()
	s.add("https://big.edu/", `<p>a@big.edu</p><p>b@big.edu</p><p>info@big.edu</p><p>c@big.edu</p><p>d@big.edu</p>`)
	sink := &recordingSink{}
	o := newOrchestrator(t, s, newFileStore(t, t.TempDir()), options{
		source: staticSource{{ID: "big", Name: "Big", SeedURL: "https://big.edu/"}},
		sinks:  []harvest.ResultSink{sink},
	})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	assert.Equal(t, []string{"info@big.edu", "a@big.edu", "b@big.edu"}, sink.results[0].Addresses())
	assert.Equal(t, 5, sink.results[0].EmailsFound)
}

func TestResumeIssuesNoFetchesForCompletedEntities(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := newSite()
	entities := universities(first, 3)
	o := newOrchestrator(t, first, newFileStore(t, dir), options{source: staticSource(entities)})
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Calls(), 6)

	second := newSite()
	universities(second, 3)
	o = newOrchestrator(t, second, newFileStore(t, dir), options{source: staticSource(entities)})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, second.Calls())
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 3, summary.WithEmail)
}

func TestCrashAfterFirstBatchResumes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	crashed := newSite()
	entities := universities(crashed, 120)
	injected := errors.New("disk on fire")

	// Save #1 is the fresh checkpoint, #2 follows batch 1, #3 follows batch 2.
	flaky := &flakyStore{CheckpointStore: newFileStore(t, dir), failOn: 3, err: injected}
	o := newOrchestrator(t, crashed, flaky, options{source: staticSource(entities)})
	_, err := o.Run(context.Background())
	require.ErrorIs(t, err, injected)

	cp, found, err := newFileStore(t, dir).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	done, total := cp.Progress()
	assert.Equal(t, 50, done)
	assert.Equal(t, 120, total)

	resumed := newSite()
	universities(resumed, 120)
	sink := &recordingSink{}
	o = newOrchestrator(t, resumed, newFileStore(t, dir), options{
		source: staticSource(entities),
		sinks:  []harvest.ResultSink{sink},
	})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, e := range entities[:50] {
		assert.Zero(t, resumed.count(e.SeedURL), e.ID)
	}
	assert.Len(t, resumed.Calls(), 70*2)
	assert.Equal(t, 120, summary.Completed)
	assert.Zero(t, summary.Pending())

	seen := make(map[string]struct{})
	for _, r := range sink.results {
		_, dup := seen[r.EntityID]
		assert.False(t, dup, r.EntityID)
		seen[r.EntityID] = struct{}{}
		assert.Equal(t, "international@"+r.EntityID[:3]+r.EntityID[4:]+".edu", r.BestEmail)
	}
	assert.Len(t, seen, 120)
}

func TestCancellationLeavesInterruptedEntitiesPending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newSite()
	entities := universities(s, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.hook = func(url string) {
		if url == entities[2].SeedURL {
			cancel()
		}
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.EntityConcurrency = 1
	o := newOrchestrator(t, s, newFileStore(t, dir), options{cfg: cfg, source: staticSource(entities)})
	summary, err := o.Run(ctx)
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))
	assert.Equal(t, 2, summary.Completed)

	cp, found, err := newFileStore(t, dir).Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cp.IsCompleted(entities[0].ID))
	assert.True(t, cp.IsCompleted(entities[1].ID))
	assert.Len(t, cp.Pending(), 4)
	assert.Zero(t, s.count(entities[2].SeedURL+"contact"))
	assert.Zero(t, s.count(entities[3].SeedURL))
}

func TestInitialSaveFailureIsFatal(t *testing.T) {
	t.Parallel()

	s := newSite()
	injected := errors.New("read-only filesystem")
	flaky := &flakyStore{CheckpointStore: newFileStore(t, t.TempDir()), failOn: 1, err: injected}
	o := newOrchestrator(t, s, flaky, options{source: staticSource(universities(s, 2))})

	_, err := o.Run(context.Background())
	require.ErrorIs(t, err, injected)
	assert.Empty(t, s.Calls())
}

func TestRunWithoutCheckpointOrSource(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, newSite(), newFileStore(t, t.TempDir()), options{})
	_, err := o.Run(context.Background())
	require.ErrorContains(t, err, "no name source")
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Dependencies{})
	require.Error(t, err)
}

func TestCheckpointIsExposedAfterLoad(t *testing.T) {
	t.Parallel()

	s := newSite()
	o := newOrchestrator(t, s, newFileStore(t, t.TempDir()), options{source: staticSource(universities(s, 2))})
	assert.Nil(t, o.Checkpoint())

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, o.Checkpoint())
	done, total := o.Checkpoint().Progress()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
}
