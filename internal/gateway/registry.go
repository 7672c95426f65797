package gateway

import (
	"fmt"
	"sort"
	"sync"
)

type session struct {
	mu        sync.Mutex
	closed    bool
	listeners map[string]*Registration
}

// Registry tracks the registrations of every open connection. Each
// connection has its own lock; unrelated connections never contend.
type Registry struct {
	sessions sync.Map // connection id -> *session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Open starts tracking conn. It reports false if conn was already open.
func (r *Registry) Open(conn Conn) bool {
	_, loaded := r.sessions.LoadOrStore(conn.ID(), &session{listeners: make(map[string]*Registration)})
	return !loaded
}

// RegisterFor records reg under conn. It fails with ErrSessionClosed when
// conn was never opened or RemoveAll already ran for it.
func (r *Registry) RegisterFor(conn Conn, reg *Registration) error {
	v, ok := r.sessions.Load(conn.ID())
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionClosed, conn.ID())
	}
	s := v.(*session)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, conn.ID())
	}
	if _, dup := s.listeners[reg.ID]; dup {
		return fmt.Errorf("listener %s already registered for %s", reg.ID, conn.ID())
	}
	s.listeners[reg.ID] = reg
	return nil
}

// AllFor returns a snapshot of conn's registrations in creation order.
func (r *Registry) AllFor(conn Conn) []*Registration {
	v, ok := r.sessions.Load(conn.ID())
	if !ok {
		return nil
	}
	s := v.(*session)

	s.mu.Lock()
	regs := collect(s.listeners)
	s.mu.Unlock()
	return regs
}

// RemoveMatching drops every registration of conn for which match is true.
func (r *Registry) RemoveMatching(conn Conn, match func(*Registration) bool) []*Registration {
	v, ok := r.sessions.Load(conn.ID())
	if !ok {
		return nil
	}
	s := v.(*session)

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Registration
	for id, reg := range s.listeners {
		if match(reg) {
			removed = append(removed, reg)
			delete(s.listeners, id)
		}
	}
	sortBySeq(removed)
	return removed
}

// RemoveAll closes conn's session and returns what it held. Later calls
// return nothing, and later RegisterFor calls fail.
func (r *Registry) RemoveAll(conn Conn) []*Registration {
	v, ok := r.sessions.LoadAndDelete(conn.ID())
	if !ok {
		return nil
	}
	s := v.(*session)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	regs := collect(s.listeners)
	s.listeners = nil
	return regs
}

// IsOpen reports whether conn is tracked.
func (r *Registry) IsOpen(conn Conn) bool {
	_, ok := r.sessions.Load(conn.ID())
	return ok
}

// Sessions counts open connections.
func (r *Registry) Sessions() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func collect(listeners map[string]*Registration) []*Registration {
	regs := make([]*Registration, 0, len(listeners))
	for _, reg := range listeners {
		regs = append(regs, reg)
	}
	sortBySeq(regs)
	return regs
}

func sortBySeq(regs []*Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
}
