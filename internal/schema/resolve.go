package schema

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Resolved holds validated, typed option values keyed by id. Values are
// stored in canonical Go types: string kinds as string, number kinds as
// float64, bool as bool. Lookups never fail; a missing id yields the
// caller's fallback, mirroring how scripts read options.
type Resolved struct {
	values map[string]any
}

// Resolve validates raw user input against a canonical schema and returns
// the typed, defaulted values.
//
// Rules, applied per definition in schema order:
//  1. required and absent (missing, nil, or empty string) fails immediately
//     with ErrMissingRequired, unless a depends_on target is falsy.
//  2. absent optionals take the declared default, or the kind's zero value
//     when no default is declared.
//  3. values coerce to the kind's canonical type; select values must be a
//     declared choice.
//  4. numeric values must lie within min/max when declared.
//
// Validation is total over the schema before any script code runs and has
// no side effects on failure. Defaults pass through the same coercion and
// range checks as user input; the kind-zero fill does not, since an unset
// optional carries no meaning to check.
func Resolve(defs []OptionDef, raw map[string]any) (*Resolved, error) {
	out := &Resolved{values: make(map[string]any, len(defs))}

	for _, def := range defs {
		v, present := raw[def.ID]
		if present && absent(v) {
			present = false
		}

		if !present {
			if def.Required && !dependencyWaived(def, raw, out.values) {
				return nil, schemaErr(ErrMissingRequired, def.ID)
			}
			if def.Default != nil {
				cv, err := coerceChecked(def, def.Default)
				if err != nil {
					return nil, err
				}
				out.values[def.ID] = cv
				continue
			}
			out.values[def.ID] = zeroFor(def.Kind)
			continue
		}

		cv, err := coerceChecked(def, v)
		if err != nil {
			return nil, err
		}
		out.values[def.ID] = cv
	}

	return out, nil
}

// dependencyWaived reports whether def's required flag is suspended because
// the option it depends on resolved falsy or was not supplied.
func dependencyWaived(def OptionDef, raw map[string]any, resolved map[string]any) bool {
	if def.DependsOn == "" {
		return false
	}
	if dv, ok := resolved[def.DependsOn]; ok {
		return falsy(dv)
	}
	return falsy(raw[def.DependsOn])
}

// coerceChecked coerces one value to def's kind and applies the choice and
// range constraints.
func coerceChecked(def OptionDef, v any) (any, error) {
	switch {
	case def.Kind.numeric():
		n, ok := toNumber(v)
		if !ok {
			return nil, valueErr(ErrInvalidValue, def.ID, v)
		}
		if def.Min != nil && n < *def.Min || def.Max != nil && n > *def.Max {
			return nil, rangeErr(def.ID, n, def.Min, def.Max)
		}
		return n, nil

	case def.Kind == KindBool:
		b, ok := toBool(v)
		if !ok {
			return nil, valueErr(ErrInvalidValue, def.ID, v)
		}
		return b, nil

	case def.Kind == KindSelect:
		s, ok := toString(v)
		if !ok {
			return nil, valueErr(ErrInvalidValue, def.ID, v)
		}
		for _, c := range def.Choices {
			if c.Value == s {
				return s, nil
			}
		}
		return nil, valueErr(ErrInvalidChoice, def.ID, s)

	default: // string, url, text
		s, ok := toString(v)
		if !ok {
			return nil, valueErr(ErrInvalidValue, def.ID, v)
		}
		return s, nil
	}
}

func zeroFor(k Kind) any {
	switch {
	case k.numeric():
		return float64(0)
	case k == KindBool:
		return false
	default:
		return ""
	}
}

// absent mirrors the validator's "null/empty" reading of raw input.
func absent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "0", "no", "off":
			return true
		}
		return false
	default:
		n, ok := toNumber(v)
		return ok && n == 0
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on", "y":
			return true, true
		case "false", "0", "no", "off", "n", "":
			return false, true
		}
		return false, false
	default:
		if n, ok := toNumber(v); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	}
	return false, false
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case float64, float32, int, int64:
		n, _ := toNumber(v)
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Value returns the resolved value for id, or fallback when the schema never
// declared it.
func (r *Resolved) Value(id string, fallback any) any {
	if v, ok := r.values[id]; ok {
		return v
	}
	return fallback
}

// Has reports whether id was declared by the schema.
func (r *Resolved) Has(id string) bool {
	_, ok := r.values[id]
	return ok
}

func (r *Resolved) String(id, fallback string) string {
	v, ok := r.values[id]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := toString(v); ok {
		return s
	}
	return fallback
}

func (r *Resolved) Float(id string, fallback float64) float64 {
	v, ok := r.values[id]
	if !ok {
		return fallback
	}
	if n, ok := toNumber(v); ok {
		return n
	}
	return fallback
}

func (r *Resolved) Int(id string, fallback int) int {
	v, ok := r.values[id]
	if !ok {
		return fallback
	}
	if n, ok := toNumber(v); ok {
		return int(n)
	}
	return fallback
}

func (r *Resolved) Bool(id string, fallback bool) bool {
	v, ok := r.values[id]
	if !ok {
		return fallback
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

// All returns a copy of the resolved values, for logging and for building
// the degenerate option map of URL-driven invocations.
func (r *Resolved) All() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}
