// Package channels defines the intake surface: how external messaging
// adapters hand requests to the runtime and report their health. The
// runtime only ever sees the Adapter interface; concrete transports live
// behind it.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Incoming is one inbound request from an adapter.
type Incoming struct {
	Source    string `json:"source"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
}

// Handler processes one inbound request and returns the reply text. It is
// the runtime's HandleIncoming, abstracted so adapters never import the
// runtime.
type Handler func(ctx context.Context, in Incoming) string

// HealthFunc lets adapters report liveness changes.
type HealthFunc func(channel string, healthy bool)

// Adapter is one messaging transport.
type Adapter interface {
	// Name identifies the adapter (slack, telegram, cli, ...).
	Name() string

	// Start begins listening and delivering requests to handler until ctx
	// is cancelled or Stop is called.
	Start(ctx context.Context, handler Handler) error

	// Stop shuts the adapter down, flushing in-flight replies.
	Stop(ctx context.Context) error
}

// Registry holds the configured adapters.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	health   HealthFunc
}

// NewRegistry creates an empty registry. health may be nil.
func NewRegistry(health HealthFunc) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		health:   health,
	}
}

// Register adds an adapter; duplicate names error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("adapter already registered: %s", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Names lists registered adapters in stable order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StartAll starts every adapter; the first failure marks that adapter
// unhealthy but the rest keep starting. Returns the first error.
func (r *Registry) StartAll(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	health := r.health
	r.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		err := a.Start(ctx, handler)
		if health != nil {
			health(a.Name(), err == nil)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("start %s: %w", a.Name(), err)
		}
	}
	return firstErr
}

// StopAll stops every adapter, collecting the first error.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	health := r.health
	r.mu.Unlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", a.Name(), err)
		}
		if health != nil {
			health(a.Name(), false)
		}
	}
	return firstErr
}
