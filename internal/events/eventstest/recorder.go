// Package eventstest provides publishers for tests of code that emits
// instance dispatches.
package eventstest

import (
	"context"
	"sync"

	"evalgo.org/nimbus/models"
)

// Recorder is an in-memory publisher that keeps every dispatch it receives.
type Recorder struct {
	mu         sync.Mutex
	dispatches []models.InstanceDispatch
}

func (r *Recorder) Publish(_ context.Context, dispatch models.InstanceDispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, dispatch)
	return nil
}

// Dispatches returns the recorded dispatches in publication order.
func (r *Recorder) Dispatches() []models.InstanceDispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.InstanceDispatch, len(r.dispatches))
	copy(out, r.dispatches)
	return out
}

// Types returns the recorded dispatch types in publication order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.dispatches))
	for i, d := range r.dispatches {
		out[i] = d.Type
	}
	return out
}

// Reset forgets the recorded dispatches.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = nil
}
