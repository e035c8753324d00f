// Package scheduler runs fetch tasks on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/queue/memory"
)

// Pacer spaces out requests sharing a key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
	Forget(key string)
}

// Config sizes the worker pool.
type Config struct {
	// Concurrency is the number of workers, and so the bound on in-flight requests.
	Concurrency int
	// QueueDepth bounds tasks waiting for a worker.
	QueueDepth int
	// TaskTimeout caps a single fetch, including redirects.
	TaskTimeout time.Duration
}

// ErrClosed is reported for tasks submitted after Close.
var ErrClosed = errors.New("scheduler closed")

type job struct {
	ctx   context.Context
	task  harvest.FetchTask
	reply chan harvest.FetchOutcome
}

// Scheduler dispatches FetchTasks to the fetch service. Submitters block in
// Fetch until their outcome is ready; the pool size alone bounds network work.
type Scheduler struct {
	cfg      Config
	fetcher  harvest.Fetcher
	ledger   harvest.Ledger
	pacer    Pacer
	reporter *progress.Reporter
	logger   *zap.Logger
	queue    *memory.Queue[job]

	// mu orders Close after every in-progress enqueue, so each queued job
	// is drained by a worker and its submitter always receives a reply.
	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wires a Scheduler. Call Start before Fetch and Close when done.
func New(
	cfg Config,
	fetcher harvest.Fetcher,
	ledger harvest.Ledger,
	pacer Pacer,
	reporter *progress.Reporter,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Concurrency * 2
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		fetcher:  fetcher,
		ledger:   ledger,
		pacer:    pacer,
		reporter: reporter,
		logger:   logger,
		queue:    memory.NewQueue[job](cfg.QueueDepth),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Concurrency; i++ {
			s.wg.Add(1)
			go func(idx int) {
				defer s.wg.Done()
				s.work(s.logger.With(zap.Int("worker", idx)))
			}(i)
		}
	})
}

// Close stops intake and waits for workers to drain the queue.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.queue.Close()
		s.wg.Wait()
	})
}

// Fetch runs one task and returns its classified outcome. It never returns an
// error; failures are expressed as outcome statuses. Once ctx is canceled no new
// task reaches the network, but a task already on a worker runs to completion.
func (s *Scheduler) Fetch(ctx context.Context, task harvest.FetchTask) harvest.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return canceled(task, err)
	}
	if s.isClosed() {
		return canceled(task, ErrClosed)
	}

	won, err := s.ledger.MarkIfNew(ctx, task.URL)
	if err != nil {
		outcome := harvest.FetchOutcome{Task: task, Status: harvest.StatusNetworkError, Err: fmt.Errorf("ledger: %w", err)}
		s.finish(outcome)
		return outcome
	}
	if !won {
		outcome := harvest.FetchOutcome{Task: task, Status: harvest.StatusDuplicateSkipped}
		s.finish(outcome)
		return outcome
	}

	if task.Role == harvest.RoleContact && s.pacer != nil {
		if err := s.pacer.Wait(ctx, task.EntityID); err != nil {
			return canceled(task, err)
		}
	}

	reply := make(chan harvest.FetchOutcome, 1)
	if err := s.enqueue(ctx, job{ctx: ctx, task: task, reply: reply}); err != nil {
		return canceled(task, err)
	}
	return <-reply
}

func (s *Scheduler) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Scheduler) enqueue(ctx context.Context, j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.queue.Enqueue(ctx, j)
}

// Release frees per-entity pacing state once an entity stops submitting tasks.
func (s *Scheduler) Release(entityID string) {
	if s.pacer != nil {
		s.pacer.Forget(entityID)
	}
}

func (s *Scheduler) work(logger *zap.Logger) {
	for {
		j, err := s.queue.Dequeue(context.Background())
		if err != nil {
			return
		}
		j.reply <- s.execute(j, logger)
	}
}

func (s *Scheduler) execute(j job, logger *zap.Logger) harvest.FetchOutcome {
	if err := j.ctx.Err(); err != nil {
		return canceled(j.task, err)
	}

	metrics.IncInFlight()
	defer metrics.DecInFlight()
	s.reporter.FetchStarted(j.task)

	// The request outlives run cancellation but not its own timeout.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), s.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.fetcher.Fetch(fetchCtx, j.task.URL)
	outcome := classify(j.task, resp, err)
	if outcome.Duration == 0 {
		outcome.Duration = time.Since(start)
	}
	if !outcome.OK() {
		logger.Debug("fetch did not succeed",
			zap.String("entity_id", j.task.EntityID),
			zap.String("url", j.task.URL),
			zap.String("status", string(outcome.Status)),
			zap.Int("code", outcome.StatusCode),
			zap.Error(outcome.Err),
		)
	}
	s.finish(outcome)
	return outcome
}

func (s *Scheduler) finish(outcome harvest.FetchOutcome) {
	metrics.ObserveFetch(string(outcome.Task.Role), string(outcome.Status), len(outcome.Body), outcome.Duration)
	s.reporter.FetchDone(outcome)
}

func classify(task harvest.FetchTask, resp harvest.FetchResponse, err error) harvest.FetchOutcome {
	outcome := harvest.FetchOutcome{
		Task:       task,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
	}
	switch {
	case err != nil && isTimeout(err):
		outcome.Status = harvest.StatusTimeout
		outcome.Err = err
	case err != nil:
		outcome.Status = harvest.StatusNetworkError
		outcome.Err = err
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		outcome.Status = harvest.StatusOK
		outcome.Body = resp.Body
	default:
		outcome.Status = harvest.StatusHTTPError
	}
	if outcome.FinalURL == "" {
		outcome.FinalURL = task.URL
	}
	return outcome
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func canceled(task harvest.FetchTask, err error) harvest.FetchOutcome {
	return harvest.FetchOutcome{Task: task, Status: harvest.StatusCanceled, Err: err}
}
