package datasource

import (
	"context"
	"sync"
	"time"
)

// Registry hands out one cached client per configured source, so picker
// lookups, render-time fetches and value requests share the short-lived
// value cache. Source configs come from the load callback, letting the
// storage layer stay out of this package.
type Registry struct {
	load func(ctx context.Context, sourceID int64) (SourceConfig, error)
	ttl  time.Duration

	mu      sync.Mutex
	clients map[int64]Client
}

func NewRegistry(load func(ctx context.Context, sourceID int64) (SourceConfig, error), ttl time.Duration) *Registry {
	return &Registry{load: load, ttl: ttl, clients: map[int64]Client{}}
}

// Client returns the cached client for a source, constructing it on first
// use.
func (r *Registry) Client(ctx context.Context, sourceID int64) (Client, error) {
	r.mu.Lock()
	if client, ok := r.clients[sourceID]; ok {
		r.mu.Unlock()
		return client, nil
	}
	r.mu.Unlock()

	cfg, err := r.load(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	inner, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[sourceID]; ok {
		return client, nil
	}
	client := NewCachedClient(inner, r.ttl)
	r.clients[sourceID] = client
	return client, nil
}

// Drop evicts a source's client, forcing reconstruction on next use. Called
// when a source is deleted or reconfigured.
func (r *Registry) Drop(sourceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, sourceID)
}

// ResolveCurrent resolves a raw selector string end to end: parse, find the
// source's client, fetch the pair of live values.
func (r *Registry) ResolveCurrent(ctx context.Context, raw string) (CurrentValues, error) {
	sel, err := ParseSelector(raw)
	if err != nil {
		return CurrentValues{}, err
	}
	client, err := r.Client(ctx, sel.SourceID)
	if err != nil {
		return CurrentValues{}, err
	}
	return client.ResolveCurrent(ctx, sel)
}
