// Package harvest defines the core types shared by the contact harvesting subsystems.
package harvest

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Entity is a named organisation whose contact address is being harvested.
type Entity struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Country string `json:"country,omitempty" yaml:"country"`
	SeedURL string `json:"seed_url" yaml:"seed_url"`
	Source  string `json:"source,omitempty" yaml:"source"`
}

// PageRole says why a URL is being fetched for an entity.
type PageRole string

// Page roles.
const (
	RoleHomepage PageRole = "homepage"
	RoleContact  PageRole = "contact-candidate"
)

// FetchTask is a single unit of network work submitted to the scheduler.
type FetchTask struct {
	URL      string
	EntityID string
	Role     PageRole
	Attempt  int
}

// OutcomeStatus classifies how a fetch task ended.
type OutcomeStatus string

// Outcome statuses.
const (
	StatusOK               OutcomeStatus = "ok"
	StatusHTTPError        OutcomeStatus = "http-error"
	StatusNetworkError     OutcomeStatus = "network-error"
	StatusTimeout          OutcomeStatus = "timeout"
	StatusDuplicateSkipped OutcomeStatus = "duplicate-skipped"
	// StatusCanceled marks a task that never reached the network because the run was stopping.
	StatusCanceled OutcomeStatus = "canceled"
)

// FetchResponse is what the fetch service hands back for a completed HTTP exchange.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// FetchOutcome is the scheduler's classified result for a FetchTask.
type FetchOutcome struct {
	Task       FetchTask
	FinalURL   string
	Status     OutcomeStatus
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// OK reports whether the outcome carries a usable body.
func (o FetchOutcome) OK() bool {
	return o.Status == StatusOK
}

// Describe renders the outcome as a short annotation suitable for Result.Error.
func (o FetchOutcome) Describe() string {
	switch o.Status {
	case StatusOK:
		return "ok"
	case StatusHTTPError:
		return fmt.Sprintf("http-error: status %d", o.StatusCode)
	case StatusDuplicateSkipped:
		return "duplicate-skipped: url already fetched this run"
	case StatusNetworkError, StatusTimeout, StatusCanceled:
		if o.Err != nil {
			return fmt.Sprintf("%s: %v", o.Status, o.Err)
		}
		return string(o.Status)
	default:
		return string(o.Status)
	}
}

// CandidateEmail is a validated address found on a page.
type CandidateEmail struct {
	Address    string `json:"address"`
	SourceURL  string `json:"source_url,omitempty"`
	FromMailto bool   `json:"from_mailto,omitempty"`
}

// Result is the final per-entity record.
type Result struct {
	EntityID    string           `json:"entity_id"`
	Name        string           `json:"name"`
	Country     string           `json:"country"`
	Source      string           `json:"source,omitempty"`
	Website     string           `json:"website"`
	BestEmail   string           `json:"best_email"`
	Candidates  []CandidateEmail `json:"candidates"`
	EmailsFound int              `json:"emails_found"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// NewResult seeds a Result with the entity's identity fields.
func NewResult(entity Entity) Result {
	return Result{
		EntityID: entity.ID,
		Name:     entity.Name,
		Country:  entity.Country,
		Source:   entity.Source,
	}
}

// Partial reports whether the entity finished without a homepage or with an error annotation.
func (r Result) Partial() bool {
	return r.Error != ""
}

// Addresses returns the candidate addresses in rank order.
func (r Result) Addresses() []string {
	out := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, c.Address)
	}
	return out
}

// Validate checks the result's internal consistency.
func (r Result) Validate() error {
	if strings.TrimSpace(r.EntityID) == "" {
		return fmt.Errorf("result missing entity id")
	}
	if r.BestEmail == "" {
		return nil
	}
	if !slices.Contains(r.Addresses(), r.BestEmail) {
		return fmt.Errorf("result %s: best email %q not among candidates", r.EntityID, r.BestEmail)
	}
	return nil
}

// EntityState tracks an entity's progress through the harvest pipeline.
type EntityState string

// Entity pipeline states, in forward order.
const (
	StatePending             EntityState = "PENDING"
	StateFetchingHomepage    EntityState = "FETCHING_HOMEPAGE"
	StateDiscoveringContacts EntityState = "DISCOVERING_CONTACTS"
	StateFetchingContacts    EntityState = "FETCHING_CONTACTS"
	StateExtracting          EntityState = "EXTRACTING"
	StateCompleted           EntityState = "COMPLETED"
)

var stateOrder = map[EntityState]int{
	StatePending:             0,
	StateFetchingHomepage:    1,
	StateDiscoveringContacts: 2,
	StateFetchingContacts:    3,
	StateExtracting:          4,
	StateCompleted:           5,
}

// CanTransition reports whether moving from one state to another is legal.
// States only move forward; COMPLETED is reachable from anywhere and is terminal.
func CanTransition(from, to EntityState) bool {
	fromIdx, okFrom := stateOrder[from]
	toIdx, okTo := stateOrder[to]
	if !okFrom || !okTo || from == StateCompleted {
		return false
	}
	if to == StateCompleted {
		return true
	}
	return toIdx == fromIdx+1
}
