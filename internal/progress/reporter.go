package progress

import (
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Reporter stamps events with a run ID and timestamp before emitting them.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	clock   harvest.Clock
}

// NewReporter binds an emitter to a run. A nil emitter discards events.
func NewReporter(emitter Emitter, runID [16]byte, clock harvest.Clock) *Reporter {
	if emitter == nil {
		emitter = Nop{}
	}
	return &Reporter{emitter: emitter, runID: runID, clock: clock}
}

func (r *Reporter) emit(evt Event) {
	if r == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now()
	r.emitter.Emit(evt)
}

func (r *Reporter) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

// RunStarted reports the number of entities still pending.
func (r *Reporter) RunStarted(pending int) {
	r.emit(Event{Stage: StageRunStart, Count: pending})
}

// RunDone reports how many entities were completed during the run.
func (r *Reporter) RunDone(completed int, dur time.Duration, note string) {
	r.emit(Event{Stage: StageRunDone, Count: completed, Dur: dur, Note: note})
}

// CheckpointSaved reports a successful snapshot covering completed entities.
func (r *Reporter) CheckpointSaved(completed int, dur time.Duration) {
	r.emit(Event{Stage: StageCheckpointSave, Count: completed, Dur: dur})
}

// EntityStarted reports an entity entering its pipeline.
func (r *Reporter) EntityStarted(entity harvest.Entity) {
	r.emit(Event{Stage: StageEntityStart, EntityID: entity.ID, URL: entity.SeedURL})
}

// EntityState reports a pipeline state transition.
func (r *Reporter) EntityState(entityID string, state harvest.EntityState) {
	r.emit(Event{Stage: StageEntityState, EntityID: entityID, Outcome: string(state)})
}

// EntityDone reports a recorded result.
func (r *Reporter) EntityDone(result harvest.Result, dur time.Duration) {
	stage := StageEntityDone
	if result.Partial() {
		stage = StageEntityPartial
	}
	r.emit(Event{
		Stage:    stage,
		EntityID: result.EntityID,
		URL:      result.Website,
		Count:    result.EmailsFound,
		Dur:      dur,
		Note:     result.Error,
	})
}

// FetchStarted reports a task entering a worker slot.
func (r *Reporter) FetchStarted(task harvest.FetchTask) {
	r.emit(Event{Stage: StageFetchStart, EntityID: task.EntityID, Role: string(task.Role), URL: task.URL})
}

// FetchDone reports a classified fetch outcome.
func (r *Reporter) FetchDone(outcome harvest.FetchOutcome) {
	evt := Event{
		Stage:    StageFetchDone,
		EntityID: outcome.Task.EntityID,
		Role:     string(outcome.Task.Role),
		URL:      outcome.Task.URL,
		Outcome:  string(outcome.Status),
		Bytes:    int64(len(outcome.Body)),
		Dur:      outcome.Duration,
	}
	if outcome.StatusCode > 0 {
		evt.StatusClass = ClassifyStatus(outcome.StatusCode)
	}
	if outcome.Err != nil {
		evt.Note = outcome.Err.Error()
	}
	r.emit(evt)
}
