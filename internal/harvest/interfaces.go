package harvest

import (
	"context"
	"time"
)

// Fetcher performs a single HTTP GET and returns the response, following redirects.
// Non-2xx responses are returned as responses, not errors; errors mean the exchange failed.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Ledger remembers which normalized URLs were already fetched during the current run.
type Ledger interface {
	ShouldFetch(ctx context.Context, rawURL string) (bool, error)
	MarkFetched(ctx context.Context, rawURL string) error
	// MarkIfNew atomically marks the URL and reports whether this caller won the mark.
	MarkIfNew(ctx context.Context, rawURL string) (bool, error)
}

// NameSource supplies the entity list for a fresh run.
type NameSource interface {
	Entities(ctx context.Context) ([]Entity, error)
}

// ResultSink persists final per-entity results.
type ResultSink interface {
	Name() string
	Write(ctx context.Context, results []Result) error
}

// Hasher derives bounded-length storage keys.
type Hasher interface {
	Key(prefix, value string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
