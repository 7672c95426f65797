package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"
)

// ErrConversion is returned when a client value cannot be coerced to the
// type a constructor parameter expects.
var ErrConversion = errors.New("value conversion failed")

// ParamKind is the native type of a constructor parameter.
type ParamKind int

const (
	String ParamKind = iota
	Int
	Int64
	Float
	Bool
	StringSlice
	Duration
	Time
)

var paramKindNames = map[ParamKind]string{
	String:      "string",
	Int:         "int",
	Int64:       "int64",
	Float:       "float",
	Bool:        "bool",
	StringSlice: "[]string",
	Duration:    "duration",
	Time:        "time",
}

func (k ParamKind) String() string {
	if s, ok := paramKindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k ParamKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Converter adapts JSON-decoded client values to native parameter values.
type Converter interface {
	Convert(kind ParamKind, raw any) (any, error)
}

// CastConverter is the default Converter. It accepts the loose forms a JSON
// client naturally sends (numbers as strings, durations as "5s", and so on)
// but never silently truncates a fractional number into an integer.
type CastConverter struct{}

func (CastConverter) Convert(kind ParamKind, raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: null for %s", ErrConversion, kind)
	}

	var (
		v   any
		err error
	)
	switch kind {
	case String:
		switch raw.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("%w: %T to %s", ErrConversion, raw, kind)
		}
		v, err = cast.ToStringE(raw)
	case Int:
		if err = checkIntegral(raw, math.MinInt, math.MaxInt); err == nil {
			v, err = cast.ToIntE(raw)
		}
	case Int64:
		if err = checkIntegral(raw, math.MinInt64, math.MaxInt64); err == nil {
			v, err = cast.ToInt64E(raw)
		}
	case Float:
		if _, isBool := raw.(bool); isBool {
			return nil, fmt.Errorf("%w: bool to %s", ErrConversion, kind)
		}
		v, err = cast.ToFloat64E(raw)
	case Bool:
		v, err = cast.ToBoolE(raw)
	case StringSlice:
		switch raw.(type) {
		case []any, []string:
			v, err = cast.ToStringSliceE(raw)
		default:
			return nil, fmt.Errorf("%w: %T to %s", ErrConversion, raw, kind)
		}
	case Duration:
		v, err = cast.ToDurationE(raw)
	case Time:
		var t time.Time
		t, err = cast.ToTimeE(raw)
		v = t
	default:
		return nil, fmt.Errorf("%w: unsupported kind %d", ErrConversion, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return v, nil
}

// checkIntegral rejects floats that are fractional or fall outside
// [lo, hi), where hi is the largest integer plus one as a float.
func checkIntegral(raw any, lo, hi float64) error {
	var f float64
	switch n := raw.(type) {
	case bool:
		return fmt.Errorf("%w: bool to integer", ErrConversion)
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return nil
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("%w: %v is not an integer", ErrConversion, f)
	}
	if f < lo || f >= hi {
		return fmt.Errorf("%w: %v out of integer range", ErrConversion, f)
	}
	return nil
}
