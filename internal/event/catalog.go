package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownType           = errors.New("unknown event type")
	ErrNoMatchingConstructor = errors.New("no matching constructor")
	ErrDuplicateType         = errors.New("duplicate event type")
)

// Param names one constructor argument and its native kind.
type Param struct {
	Name string    `json:"name"`
	Kind ParamKind `json:"kind"`
}

// Args holds coerced constructor arguments keyed by parameter name. Kinds
// without an accessor are read with a type assertion on the native value.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// Constructor builds an event from arguments whose names are exactly Params.
// New must not publish anything or touch shared state; returning an error
// makes the resolver move on to the next candidate.
type Constructor struct {
	Params []Param
	New    func(Args) (Event, error)
}

func (c Constructor) signature() string {
	parts := make([]string, len(c.Params))
	for i, p := range c.Params {
		parts[i] = p.Name + " " + p.Kind.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// accepts reports whether the parameter name set equals the keys of params.
func (c Constructor) accepts(params map[string]any) bool {
	if len(c.Params) != len(params) {
		return false
	}
	for _, p := range c.Params {
		if _, ok := params[p.Name]; !ok {
			return false
		}
	}
	return true
}

// Type is one allow-listed event type with its overloaded constructors,
// tried in declaration order.
type Type struct {
	ID           string
	Description  string
	Constructors []Constructor
	// Source optionally decodes a published source payload into a typed
	// value. Without it the raw JSON is passed through.
	Source func(json.RawMessage) (any, error)
}

// Catalog is the explicit allow-list of event types clients may name.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]*Type
	order []string
}

func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]*Type)}
}

// Register adds t. A constructor may not repeat a parameter name. Two
// constructors of one type may share a parameter-name set only if their
// kinds differ; the resolver then tries them in order.
func (c *Catalog) Register(t Type) error {
	if t.ID == "" {
		return errors.New("event type id is required")
	}
	if len(t.Constructors) == 0 {
		return fmt.Errorf("event type %q has no constructors", t.ID)
	}
	seen := make(map[string]bool, len(t.Constructors))
	for _, ctor := range t.Constructors {
		if ctor.New == nil {
			return fmt.Errorf("event type %q: constructor (%s) has no New func", t.ID, ctor.signature())
		}
		names := make(map[string]bool, len(ctor.Params))
		for _, p := range ctor.Params {
			if names[p.Name] {
				return fmt.Errorf("event type %q: parameter %q repeated in constructor (%s)", t.ID, p.Name, ctor.signature())
			}
			names[p.Name] = true
		}
		sig := ctor.signature()
		if seen[sig] {
			return fmt.Errorf("event type %q: constructors collide on parameters (%s)", t.ID, sig)
		}
		seen[sig] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types[t.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, t.ID)
	}
	copied := t
	c.types[t.ID] = &copied
	c.order = append(c.order, t.ID)
	return nil
}

// MustRegister is Register for statically known types.
func (c *Catalog) MustRegister(types ...Type) *Catalog {
	for _, t := range types {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

func (c *Catalog) Lookup(id string) (*Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	return t, ok
}

// TypeInfo describes a registered type for API listings.
type TypeInfo struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Signatures  [][]Param `json:"signatures"`
}

// Describe lists the registered types in registration order.
func (c *Catalog) Describe() []TypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]TypeInfo, 0, len(c.order))
	for _, id := range c.order {
		t := c.types[id]
		info := TypeInfo{ID: t.ID, Description: t.Description}
		for _, ctor := range t.Constructors {
			params := make([]Param, len(ctor.Params))
			copy(params, ctor.Params)
			info.Signatures = append(info.Signatures, params)
		}
		infos = append(infos, info)
	}
	return infos
}

// DecodeSource turns a published source payload for typeID into the value
// handed to listeners. Empty payloads decode to nil.
func (c *Catalog) DecodeSource(typeID string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	t, ok := c.Lookup(typeID)
	if !ok || t.Source == nil {
		return raw, nil
	}
	v, err := t.Source(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s source: %w", typeID, err)
	}
	return v, nil
}
