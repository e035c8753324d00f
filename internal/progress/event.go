package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageEntityStart    Stage = "ENTITY_START"
	StageEntityState    Stage = "ENTITY_STATE"
	StageEntityDone     Stage = "ENTITY_DONE"
	StageEntityPartial  Stage = "ENTITY_PARTIAL"
	StageFetchStart     Stage = "FETCH_START"
	StageFetchDone      Stage = "FETCH_DONE"
	StageCheckpointSave Stage = "CHECKPOINT_SAVED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single harvest milestone.
type Event struct {
	// RunID identifies the harvest run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// EntityID scopes entity and fetch events.
	EntityID string
	// Role is the page role for fetch events.
	Role string
	URL  string
	// Outcome is the classified fetch status, or the entity state for ENTITY_STATE.
	Outcome     string
	StatusClass StatusClass
	Bytes       int64
	// Count carries candidates found (entity events) or entities covered (run and checkpoint events).
	Count int
	Dur   time.Duration
	Note  string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageCheckpointSave:
	case StageEntityStart, StageEntityDone, StageEntityPartial:
		if e.EntityID == "" {
			return fmt.Errorf("%s requires entity id", e.Stage)
		}
	case StageEntityState:
		if e.EntityID == "" || e.Outcome == "" {
			return errors.New("entity state requires entity id and state")
		}
	case StageFetchStart, StageFetchDone:
		if e.EntityID == "" || e.URL == "" {
			return fmt.Errorf("%s requires entity id and url", e.Stage)
		}
		if e.Stage == StageFetchDone && e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
