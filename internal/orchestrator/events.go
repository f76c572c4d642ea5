package orchestrator

import (
	"context"
	"log"
	"sync"

	"github.com/bobarin/montage/internal/models"
	"github.com/google/uuid"
)

// EventSink receives every task status transition. Emit is called from many
// worker goroutines and must not block for long.
type EventSink interface {
	Emit(ev models.TaskEvent)
}

// LogSink writes each transition to the standard logger.
type LogSink struct{}

func (LogSink) Emit(ev models.TaskEvent) {
	if ev.Error != "" {
		log.Printf("[Orchestrator] run=%s scene=%s -> %s (provider=%s, attempt=%d): %s", ev.RunID, ev.SceneID, ev.Status, ev.Provider, ev.Attempt, ev.Error)
		return
	}
	log.Printf("[Orchestrator] run=%s scene=%s -> %s (provider=%s, attempt=%d)", ev.RunID, ev.SceneID, ev.Status, ev.Provider, ev.Attempt)
}

// FanOut forwards events to every sink in order.
type FanOut []EventSink

func (f FanOut) Emit(ev models.TaskEvent) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// recorderRuns is how many runs a Recorder holds before it drops the oldest.
const recorderRuns = 512

// Recorder keeps the event history of recent runs in memory. Once it holds
// recorderRuns runs, the run seen least recently for the first time is
// dropped.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events map[uuid.UUID][]models.TaskEvent
	order  []uuid.UUID
}

func NewRecorder() *Recorder {
	return &Recorder{limit: recorderRuns, events: make(map[uuid.UUID][]models.TaskEvent)}
}

func (r *Recorder) Emit(ev models.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[ev.RunID]; !ok {
		for len(r.order) >= r.limit {
			delete(r.events, r.order[0])
			r.order = r.order[1:]
		}
		r.order = append(r.order, ev.RunID)
	}
	r.events[ev.RunID] = append(r.events[ev.RunID], ev)
}

// Events returns a copy of the run's history in emission order. Runs the
// recorder never saw, or has dropped, have no events.
func (r *Recorder) Events(_ context.Context, runID uuid.UUID) ([]models.TaskEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.events[runID]
	if !ok {
		return nil, nil
	}
	out := make([]models.TaskEvent, len(stored))
	copy(out, stored)
	return out, nil
}
