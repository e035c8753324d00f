// Package checkpoint holds the durable record of a harvest run: the entity list,
// the completed set, and the results gathered so far.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// SchemaVersion is the checkpoint layout this binary reads and writes.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned when a checkpoint was written by a newer layout.
var ErrUnsupportedSchema = errors.New("unsupported checkpoint schema")

// Checkpoint is safe for concurrent use.
type Checkpoint struct {
	mu        sync.RWMutex
	runID     string
	savedAt   time.Time
	entities  []harvest.Entity
	index     map[string]int
	completed map[string]struct{}
	results   map[string]harvest.Result
}

// document is the on-disk layout.
type document struct {
	SchemaVersion int                       `json:"schema_version"`
	RunID         string                    `json:"run_id"`
	SavedAt       time.Time                 `json:"saved_at"`
	Entities      []harvest.Entity          `json:"entities"`
	Completed     []string                  `json:"completed"`
	Results       map[string]harvest.Result `json:"results"`
}

// New builds a fresh checkpoint for the given entity list. Entities sharing an ID
// after the first are dropped.
func New(runID string, entities []harvest.Entity) *Checkpoint {
	cp := &Checkpoint{
		runID:     runID,
		index:     make(map[string]int, len(entities)),
		completed: make(map[string]struct{}),
		results:   make(map[string]harvest.Result),
	}
	for _, e := range entities {
		if _, dup := cp.index[e.ID]; dup {
			continue
		}
		cp.index[e.ID] = len(cp.entities)
		cp.entities = append(cp.entities, e)
	}
	return cp
}

// RunID returns the identifier of the run that created the checkpoint.
func (c *Checkpoint) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// SavedAt is the timestamp of the last successful marshal.
func (c *Checkpoint) SavedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.savedAt
}

// Entities returns a copy of the full entity list in its original order.
func (c *Checkpoint) Entities() []harvest.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entities)
}

// Record stores a completed result. Recording an entity twice replaces the earlier result.
func (c *Checkpoint) Record(result harvest.Result) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[result.EntityID]; !ok {
		return fmt.Errorf("record result: unknown entity %q", result.EntityID)
	}
	c.completed[result.EntityID] = struct{}{}
	c.results[result.EntityID] = result
	return nil
}

// IsCompleted reports whether the entity already has a result.
func (c *Checkpoint) IsCompleted(entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.completed[entityID]
	return ok
}

// Pending returns the entities without a result, in entity-list order.
func (c *Checkpoint) Pending() []harvest.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]harvest.Entity, 0, len(c.entities)-len(c.completed))
	for _, e := range c.entities {
		if _, done := c.completed[e.ID]; !done {
			out = append(out, e)
		}
	}
	return out
}

// Results returns every recorded result in entity-list order.
func (c *Checkpoint) Results() []harvest.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]harvest.Result, 0, len(c.results))
	for _, e := range c.entities {
		if r, ok := c.results[e.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Progress returns the completed and total entity counts.
func (c *Checkpoint) Progress() (completed, total int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.completed), len(c.entities)
}

// Snapshot serializes the checkpoint at the given time. The
// lock is held for the whole encode so the completed set and results agree.
func (c *Checkpoint) Snapshot(now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := document{
		SchemaVersion: SchemaVersion,
		RunID:         c.runID,
		SavedAt:       now.UTC(),
		Entities:      c.entities,
		Completed:     make([]string, 0, len(c.completed)),
		Results:       c.results,
	}
	if doc.Entities == nil {
		doc.Entities = []harvest.Entity{}
	}
	for id := range c.completed {
		doc.Completed = append(doc.Completed, id)
	}
	slices.Sort(doc.Completed)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	c.savedAt = doc.SavedAt
	return data, nil
}

// Repair describes what Decode changed to restore the completed/results invariant.
type Repair struct {
	// DroppedCompleted lists IDs marked completed without a result.
	DroppedCompleted []string
	// AddedCompleted lists IDs that had a result but were missing from the completed set.
	AddedCompleted []string
	// DroppedResults lists results whose entity is not in the entity list.
	DroppedResults []string
}

// Empty reports whether no repair was needed.
func (r Repair) Empty() bool {
	return len(r.DroppedCompleted) == 0 && len(r.AddedCompleted) == 0 && len(r.DroppedResults) == 0
}

// Decode parses a serialized checkpoint. When the completed set and the result
// map disagree the result map wins and the returned Repair says what changed.
func Decode(data []byte) (*Checkpoint, Repair, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Repair{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if doc.SchemaVersion > SchemaVersion || doc.SchemaVersion < 1 {
		return nil, Repair{}, fmt.Errorf("schema version %d: %w", doc.SchemaVersion, ErrUnsupportedSchema)
	}

	cp := New(doc.RunID, doc.Entities)
	cp.savedAt = doc.SavedAt

	var repair Repair
	for id, result := range doc.Results {
		if _, ok := cp.index[id]; !ok || result.Validate() != nil {
			repair.DroppedResults = append(repair.DroppedResults, id)
			continue
		}
		result.EntityID = id
		cp.results[id] = result
		cp.completed[id] = struct{}{}
	}

	listed := make(map[string]struct{}, len(doc.Completed))
	for _, id := range doc.Completed {
		listed[id] = struct{}{}
		if _, ok := cp.results[id]; !ok {
			repair.DroppedCompleted = append(repair.DroppedCompleted, id)
		}
	}
	for id := range cp.results {
		if _, ok := listed[id]; !ok {
			repair.AddedCompleted = append(repair.AddedCompleted, id)
		}
	}
	slices.Sort(repair.DroppedCompleted)
	slices.Sort(repair.AddedCompleted)
	slices.Sort(repair.DroppedResults)
	return cp, repair, nil
}
