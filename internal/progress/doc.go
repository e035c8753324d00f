// Package progress carries harvest milestones (run, entity, and fetch events)
// from the scheduler and orchestrator to pluggable sinks. Events are batched on
// a background goroutine so emitters never block on logging or metrics.
package progress
