// Package modelpool manages shared, reference-counted model instances
// across worker connections: models are loaded at most once per
// identifier, concurrent loads for the same identifier coalesce, and a
// model is unloaded once its last reference is released (§5).
package modelpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/clearlane/visionpipe/internal/frameproc"
	"github.com/clearlane/visionpipe/internal/logging"
	"github.com/clearlane/visionpipe/internal/metrics"
)

var log = logging.L("modelpool")

// Loader resolves a model name to a loaded frameproc.Model. Supplied by
// the worker's backend integration; modelpool only manages lifecycle.
type Loader func(ctx context.Context, name string) (frameproc.Model, error)

type entry struct {
	model    frameproc.Model
	refCount int
}

// Pool is the shared model table for one worker process.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	loader  Loader
	group   singleflight.Group
}

// New constructs a Pool using loader to materialize models on first
// acquisition.
func New(loader Loader) *Pool {
	return &Pool{entries: make(map[string]*entry), loader: loader}
}

// Acquire returns the model for name, loading it if this is the first
// reference. Concurrent Acquire calls for the same name share a single
// in-flight load via singleflight. Callers must call Release exactly once
// per successful Acquire.
func (p *Pool) Acquire(ctx context.Context, name string) (frameproc.Model, error) {
	p.mu.Lock()
	if e, ok := p.entries[name]; ok {
		e.refCount++
		p.mu.Unlock()
		return e.model, nil
	}
	p.mu.Unlock()

	result, err, _ := p.group.Do(name, func() (any, error) {
		model, loadErr := p.loader(ctx, name)
		if loadErr != nil {
			metrics.ModelLoadsTotal.WithLabelValues(name, "failure").Inc()
			return nil, loadErr
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if e, ok := p.entries[name]; ok {
			// Another caller's load won the race against singleflight
			// scope narrowing (group.Do dedupes within the call window
			// only); keep the existing entry.
			return e.model, nil
		}
		p.entries[name] = &entry{model: model}
		metrics.ModelLoadsTotal.WithLabelValues(name, "success").Inc()
		return model, nil
	})
	if err != nil {
		return nil, fmt.Errorf("modelpool: load %s: %w", name, err)
	}

	// Every caller, including those that joined a shared load, takes its
	// own reference.
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		e = &entry{model: result.(frameproc.Model)}
		p.entries[name] = e
	}
	e.refCount++
	return e.model, nil
}

// Release drops one reference to name's model. When the last reference is
// released, the entry is removed from the pool. Models do not implement
// an explicit unload hook in this version; removal only drops the pool's
// retaining reference; backends relying on finalizers or explicit Close
// should be wrapped by the Loader to register a runtime finalizer.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(p.entries, name)
		log.Info("model unloaded, no remaining references", "model", name)
	}
}

// RefCount returns the current reference count for name, or 0 if unloaded.
// Intended for tests and diagnostics.
func (p *Pool) RefCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		return e.refCount
	}
	return 0
}
