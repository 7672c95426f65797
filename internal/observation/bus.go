// Package observation provides the in-process event bus listeners register
// against and publishers notify.
package observation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/obsgate/backend/internal/event"
)

var (
	ErrDuplicateListener = errors.New("listener already registered")
	ErrUnknownListener   = errors.New("listener not registered")
)

// ListenerFunc is invoked for every fired event matching one of the
// listener's declared events. It may run concurrently with itself.
type ListenerFunc func(e event.Event, source, data any)

type listener struct {
	id     string
	events []event.Event
	fn     ListenerFunc
}

func (l *listener) interested(e event.Event) bool {
	for _, want := range l.events {
		if want.Kind() == e.Kind() && want.Matches(e) {
			return true
		}
	}
	return false
}

// Bus dispatches fired events to registered listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]*listener
	logger    *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string]*listener),
		logger:    logger,
	}
}

// AddListener registers fn under id for the given events.
func (b *Bus) AddListener(id string, events []event.Event, fn ListenerFunc) error {
	if id == "" {
		return errors.New("listener id is required")
	}
	if len(events) == 0 {
		return fmt.Errorf("listener %s declares no events", id)
	}
	if fn == nil {
		return fmt.Errorf("listener %s has no callback", id)
	}

	declared := make([]event.Event, len(events))
	copy(declared, events)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateListener, id)
	}
	b.listeners[id] = &listener{id: id, events: declared, fn: fn}
	return nil
}

// RemoveListener unregisters id. Calls already dispatched to the listener
// may still be running when it returns.
func (b *Bus) RemoveListener(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownListener, id)
	}
	delete(b.listeners, id)
	return nil
}

// Notify delivers e to every interested listener on the calling goroutine.
// It returns the number of listeners invoked.
func (b *Bus) Notify(e event.Event, source, data any) int {
	b.mu.RLock()
	// Copy so listeners run without the lock held; they may add or remove
	// listeners themselves.
	targets := make([]*listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.interested(e) {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.invoke(l, e, source, data)
	}
	return len(targets)
}

func (b *Bus) invoke(l *listener, e event.Event, source, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "listener", l.id, "event", e.Kind(), "panic", r)
		}
	}()
	l.fn(e, source, data)
}

func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// ListenerNames returns the registered listener ids, sorted.
func (b *Bus) ListenerNames() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.listeners))
	for id := range b.listeners {
		names = append(names, id)
	}
	b.mu.RUnlock()
	sort.Strings(names)
	return names
}

// HasListener reports whether id is registered.
func (b *Bus) HasListener(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.listeners[id]
	return ok
}
