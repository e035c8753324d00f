package ledger

import (
	"context"
	"sync"
)

// Memory is a process-local ledger. Entries live until the process exits.
type Memory struct {
	seen sync.Map
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{}
}

// ShouldFetch reports whether the URL has not been marked yet.
// Unparseable URLs are never fetched.
func (m *Memory) ShouldFetch(_ context.Context, rawURL string) (bool, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	_, loaded := m.seen.Load(key)
	return !loaded, nil
}

// MarkFetched records the URL; marking twice is a no-op.
func (m *Memory) MarkFetched(_ context.Context, rawURL string) error {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	m.seen.Store(key, struct{}{})
	return nil
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (m *Memory) MarkIfNew(_ context.Context, rawURL string) (bool, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	_, loaded := m.seen.LoadOrStore(key, struct{}{})
	return !loaded, nil
}

// Len counts the marked URLs.
func (m *Memory) Len() int {
	n := 0
	m.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
