package event

import (
	"fmt"
	"sort"
)

// Resolver turns a client-named type and its named parameters into an event.
// Only types present in the catalogue can be built.
type Resolver struct {
	catalog   *Catalog
	converter Converter
}

func NewResolver(catalog *Catalog, converter Converter) *Resolver {
	if converter == nil {
		converter = CastConverter{}
	}
	return &Resolver{catalog: catalog, converter: converter}
}

func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve picks the first constructor of typeID whose parameter names equal
// the keys of params and whose arguments all convert. Conversion failures
// skip the candidate rather than failing the resolution.
func (r *Resolver) Resolve(typeID string, params map[string]any) (Event, error) {
	t, ok := r.catalog.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeID)
	}

	for _, ctor := range t.Constructors {
		if !ctor.accepts(params) {
			continue
		}
		args, err := r.convertArgs(ctor, params)
		if err != nil {
			continue
		}
		e, err := ctor.New(args)
		if err != nil || e == nil {
			continue
		}
		return e, nil
	}

	return nil, fmt.Errorf("%w: %q with parameters %v", ErrNoMatchingConstructor, typeID, paramNames(params))
}

func (r *Resolver) convertArgs(ctor Constructor, params map[string]any) (Args, error) {
	args := make(Args, len(ctor.Params))
	for _, p := range ctor.Params {
		v, err := r.converter.Convert(p.Kind, params[p.Name])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		args[p.Name] = v
	}
	return args, nil
}

func paramNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
