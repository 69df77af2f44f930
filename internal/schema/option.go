// Package schema declares, normalizes, and validates script option schemas.
//
// Script authors declare options in one of two shapes: an ordered list of
// definition objects each carrying its own id, or a mapping from id to a
// definition without an id field. Both decode to the same canonical ordered
// []OptionDef here, so nothing downstream ever branches on declaration
// shape. Validation (see resolve.go) turns a canonical schema plus raw user
// input into typed, defaulted values before any script code runs.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind is the declared type of an option value.
type Kind string

const (
	KindString Kind = "string"
	KindURL    Kind = "url"
	KindText   Kind = "text"
	KindNumber Kind = "number"
	KindRange  Kind = "range"
	KindBool   Kind = "bool"
	KindSelect Kind = "select"
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindURL, KindText, KindNumber, KindRange, KindBool, KindSelect:
		return true
	}
	return false
}

// numeric reports whether values of this kind are carried as float64.
func (k Kind) numeric() bool { return k == KindNumber || k == KindRange }

// Choice is one selectable value of a select option. Declarations may spell
// a choice as a bare string, in which case the label mirrors the value.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		c.Value, c.Label = s, s
		return nil
	}
	var obj struct {
		Value string `json:"value"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Value, c.Label = obj.Value, obj.Label
	if c.Label == "" {
		c.Label = c.Value
	}
	return nil
}

// OptionDef is the canonical form of one declared option.
// Identity is ID, unique within a schema.
type OptionDef struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"type"`
	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
	Choices     []Choice `json:"choices,omitempty"`
	DependsOn   string   `json:"depends_on,omitempty"`
}

// rawDef mirrors OptionDef for decoding, accepting both depends_on spellings.
type rawDef struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"type"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
	Step        *float64 `json:"step"`
	Choices     []Choice `json:"choices"`
	DependsOn   string   `json:"depends_on"`
	DependsOn2  string   `json:"dependsOn"`
}

func (r rawDef) canonical() OptionDef {
	dep := r.DependsOn
	if dep == "" {
		dep = r.DependsOn2
	}
	return OptionDef{
		ID:          r.ID,
		Kind:        r.Kind,
		Label:       r.Label,
		Description: r.Description,
		Required:    r.Required,
		Default:     r.Default,
		Min:         r.Min,
		Max:         r.Max,
		Step:        r.Step,
		Choices:     r.Choices,
		DependsOn:   dep,
	}
}

// Normalize validates a canonical definition sequence in place: ids must be
// present and unique, kinds default to string and must be known, choice
// labels fall back to values. The input slice is not modified; the returned
// slice is the caller's to keep.
func Normalize(defs []OptionDef) ([]OptionDef, error) {
	out := make([]OptionDef, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, schemaErr(ErrBadDeclaration, "(empty id)")
		}
		if _, dup := seen[d.ID]; dup {
			return nil, schemaErr(ErrDuplicateID, d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Kind == "" {
			d.Kind = KindString
		}
		if !d.Kind.valid() {
			return nil, valueErr(ErrUnknownKind, d.ID, string(d.Kind))
		}
		for i := range d.Choices {
			if d.Choices[i].Label == "" {
				d.Choices[i].Label = d.Choices[i].Value
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseDefs decodes an option schema declaration from JSON in either
// accepted shape and returns the canonical sequence.
//
// Shapes:
//   - list: [{"id": "count", "type": "number", ...}, ...] in declared order
//   - map:  {"count": {"type": "number", ...}, ...} in key order as written
//
// The map shape is decoded with a token walk rather than map[string]any so
// the declaration's textual key order survives.
func ParseDefs(data []byte) ([]OptionDef, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Normalize(nil)
		}
		return nil, fmt.Errorf("%w: %w", ErrBadDeclaration, err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("%w: root is %T, want list or mapping", ErrBadDeclaration, tok)
	}

	var defs []OptionDef
	switch d {
	case '[':
		for dec.More() {
			var rd rawDef
			if err := dec.Decode(&rd); err != nil {
				return nil, fmt.Errorf("%w: list entry: %w", ErrBadDeclaration, err)
			}
			defs = append(defs, rd.canonical())
		}

	case '{':
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: read id key: %w", ErrBadDeclaration, err)
			}
			id, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("%w: id key is %T", ErrBadDeclaration, keyTok)
			}
			var rd rawDef
			if err := dec.Decode(&rd); err != nil {
				return nil, fmt.Errorf("%w: entry %q: %w", ErrBadDeclaration, id, err)
			}
			def := rd.canonical()
			// The mapping shape carries the id in the key. An embedded id
			// field that disagrees is a declaration bug worth failing on.
			if def.ID != "" && def.ID != id {
				return nil, valueErr(ErrBadDeclaration, id, "conflicting id "+def.ID)
			}
			def.ID = id
			defs = append(defs, def)
		}

	default:
		return nil, fmt.Errorf("%w: unexpected delimiter %q", ErrBadDeclaration, d)
	}

	return Normalize(defs)
}

// MustParse is ParseDefs for package-level script declarations, where a
// malformed schema is a programmer error caught at init.
func MustParse(data []byte) []OptionDef {
	defs, err := ParseDefs(data)
	if err != nil {
		panic(err)
	}
	return defs
}
