package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/ledger"
	"github.com/JakeFAU/contact-harvester/internal/policy/ratelimit"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	gate     chan struct{}
	respond  func(url string) (harvest.FetchResponse, error)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (harvest.FetchResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return harvest.FetchResponse{}, ctx.Err()
		}
	}
	if f.respond != nil {
		return f.respond(url)
	}
	return harvest.FetchResponse{URL: url, FinalURL: url, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func newScheduler(t *testing.T, cfg Config, f harvest.Fetcher, pacer Pacer) *Scheduler {
	t.Helper()
	s := New(cfg, f, ledger.NewMemory(), pacer, nil, zap.NewNop())
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.delay = 20 * time.Millisecond
	s := newScheduler(t, Config{Concurrency: 3}, f, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := s.Fetch(context.Background(), harvest.FetchTask{
				URL:      fmt.Sprintf("https://uni%d.edu/", i),
				EntityID: fmt.Sprintf("uni-%d", i),
				Role:     harvest.RoleHomepage,
			})
			assert.Equal(t, harvest.StatusOK, out.Status)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, f.Total())
	assert.LessOrEqual(t, f.maxSeen.Load(), int32(3))
	assert.Positive(t, f.maxSeen.Load())
}

func TestSchedulerSkipsDuplicates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := newScheduler(t, Config{Concurrency: 2}, f, nil)
	ctx := context.Background()

	first := s.Fetch(ctx, harvest.FetchTask{URL: "https://uni.edu/contact", EntityID: "a", Role: harvest.RoleContact})
	second := s.Fetch(ctx, harvest.FetchTask{URL: "https://UNI.edu/contact#x", EntityID: "b", Role: harvest.RoleContact})

	assert.Equal(t, harvest.StatusOK, first.Status)
	assert.Equal(t, []byte("ok"), first.Body)
	assert.Equal(t, harvest.StatusDuplicateSkipped, second.Status)
	assert.Equal(t, 1, f.Total())
}

func TestSchedulerConcurrentDuplicatesFetchOnce(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.delay = 10 * time.Millisecond
	s := newScheduler(t, Config{Concurrency: 4}, f, nil)

	const submitters = 16
	var ok, skipped atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			out := s.Fetch(context.Background(), harvest.FetchTask{
				URL:      "https://uni.edu/contact",
				EntityID: fmt.Sprintf("uni-%d", i),
				Role:     harvest.RoleHomepage,
			})
			switch out.Status {
			case harvest.StatusOK:
				ok.Add(1)
			case harvest.StatusDuplicateSkipped:
				skipped.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(submitters-1), skipped.Load())
	assert.Equal(t, 1, f.Total())
}

func TestSchedulerFetchAfterClose(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := New(Config{Concurrency: 1}, f, ledger.NewMemory(), nil, nil, zap.NewNop())
	s.Start()
	s.Close()

	out := s.Fetch(context.Background(), harvest.FetchTask{URL: "https://uni.edu/", EntityID: "a", Role: harvest.RoleHomepage})
	assert.Equal(t, harvest.StatusCanceled, out.Status)
	require.ErrorIs(t, out.Err, ErrClosed)
	assert.Zero(t, f.Total())
}

func TestSchedulerCloseDuringFetchNeverStrandsSubmitters(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := New(Config{Concurrency: 2, QueueDepth: 1}, f, ledger.NewMemory(), nil, nil, zap.NewNop())
	s.Start()

	const submitters = 50
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := s.Fetch(context.Background(), harvest.FetchTask{
				URL:      fmt.Sprintf("https://uni%d.edu/", i),
				EntityID: fmt.Sprintf("uni-%d", i),
				Role:     harvest.RoleHomepage,
			})
			if out.Status != harvest.StatusOK {
				assert.ErrorIs(t, out.Err, ErrClosed)
			}
		}(i)
	}
	s.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submitters still blocked after Close")
	}
}

func TestSchedulerClassifiesOutcomes(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.respond = func(url string) (harvest.FetchResponse, error) {
		switch url {
		case "https://uni.edu/missing":
			return harvest.FetchResponse{URL: url, StatusCode: http.StatusNotFound, Body: []byte("nope")}, nil
		case "https://uni.edu/slow":
			return harvest.FetchResponse{}, fmt.Errorf("colly visit failed: %w", context.DeadlineExceeded)
		case "https://uni.edu/reset":
			return harvest.FetchResponse{}, errors.New("connection reset by peer")
		default:
			return harvest.FetchResponse{URL: url, FinalURL: "https://www.uni.edu/", StatusCode: http.StatusOK}, nil
		}
	}
	s := newScheduler(t, Config{Concurrency: 1}, f, nil)
	ctx := context.Background()
	fetch := func(url string) harvest.FetchOutcome {
		return s.Fetch(ctx, harvest.FetchTask{URL: url, EntityID: "uni", Role: harvest.RoleHomepage})
	}

	missing := fetch("https://uni.edu/missing")
	assert.Equal(t, harvest.StatusHTTPError, missing.Status)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Empty(t, missing.Body)

	assert.Equal(t, harvest.StatusTimeout, fetch("https://uni.edu/slow").Status)
	assert.Equal(t, harvest.StatusNetworkError, fetch("https://uni.edu/reset").Status)

	ok := fetch("https://uni.edu/")
	assert.Equal(t, harvest.StatusOK, ok.Status)
	assert.Equal(t, "https://www.uni.edu/", ok.FinalURL)
}

func TestSchedulerRejectsAfterCancel(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := newScheduler(t, Config{Concurrency: 1}, f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Fetch(ctx, harvest.FetchTask{URL: "https://uni.edu/", EntityID: "uni", Role: harvest.RoleHomepage})
	assert.Equal(t, harvest.StatusCanceled, out.Status)
	assert.Equal(t, 0, f.Total())
}

func TestSchedulerLetsInFlightFetchFinish(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.gate = make(chan struct{})
	s := newScheduler(t, Config{Concurrency: 1}, f, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan harvest.FetchOutcome, 1)
	go func() {
		done <- s.Fetch(ctx, harvest.FetchTask{URL: "https://uni.edu/", EntityID: "uni", Role: harvest.RoleHomepage})
	}()
	require.Eventually(t, func() bool { return f.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	close(f.gate)

	select {
	case out := <-done:
		assert.Equal(t, harvest.StatusOK, out.Status)
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch did not complete")
	}
}

func TestSchedulerTaskTimeout(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.delay = time.Second
	s := newScheduler(t, Config{Concurrency: 1, TaskTimeout: 20 * time.Millisecond}, f, nil)

	out := s.Fetch(context.Background(), harvest.FetchTask{URL: "https://uni.edu/", EntityID: "uni", Role: harvest.RoleHomepage})
	assert.Equal(t, harvest.StatusTimeout, out.Status)
}

func TestSchedulerPacesContactPagesPerEntity(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	pacer := ratelimit.New(ratelimit.Config{Interval: 60 * time.Millisecond})
	s := newScheduler(t, Config{Concurrency: 4}, f, pacer)
	ctx := context.Background()

	start := time.Now()
	s.Fetch(ctx, harvest.FetchTask{URL: "https://uni.edu/", EntityID: "uni", Role: harvest.RoleHomepage})
	s.Fetch(ctx, harvest.FetchTask{URL: "https://uni.edu/homepage-2", EntityID: "uni", Role: harvest.RoleHomepage})
	assert.Less(t, time.Since(start), 50*time.Millisecond, "homepages are not paced")

	start = time.Now()
	for i := 0; i < 3; i++ {
		s.Fetch(ctx, harvest.FetchTask{URL: fmt.Sprintf("https://uni.edu/c%d", i), EntityID: "uni", Role: harvest.RoleContact})
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	s.Release("uni")
	assert.Equal(t, 0, pacer.Len())
}

func TestSchedulerCloseRejectsNewWork(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	s := New(Config{Concurrency: 1}, f, ledger.NewMemory(), nil, nil, nil)
	s.Start()
	s.Close()

	out := s.Fetch(context.Background(), harvest.FetchTask{URL: "https://uni.edu/", EntityID: "uni", Role: harvest.RoleHomepage})
	assert.Equal(t, harvest.StatusCanceled, out.Status)
	assert.Equal(t, 0, f.Total())
}
