package schema

import (
	"errors"
	"reflect"
	"testing"
)

func fptr(f float64) *float64 { return &f }

// -----------------------------------------------------------------------------
// ParseDefs: declaration shapes
// -----------------------------------------------------------------------------

func TestParseDefsListShape(t *testing.T) {
	t.Parallel()

	defs, err := ParseDefs([]byte(`[
		{"id": "url", "type": "url", "label": "Gallery URL", "required": true},
		{"id": "pages", "type": "number", "min": 1, "max": 50, "default": 5},
		{"id": "quality", "type": "select", "choices": ["low", "high"], "default": "high"}
	]`))
	if err != nil {
		t.Fatalf("ParseDefs: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("expected 3 defs, got %d", len(defs))
	}
	if defs[0].ID != "url" || defs[1].ID != "pages" || defs[2].ID != "quality" {
		t.Fatalf("order not preserved: %#v", defs)
	}
	if defs[1].Kind != KindNumber || *defs[1].Min != 1 || *defs[1].Max != 50 {
		t.Fatalf("number def mangled: %#v", defs[1])
	}
	want := []Choice{{Value: "low", Label: "low"}, {Value: "high", Label: "high"}}
	if !reflect.DeepEqual(defs[2].Choices, want) {
		t.Fatalf("string choices: expected %#v, got %#v", want, defs[2].Choices)
	}
}

func TestParseDefsMapShapePreservesKeyOrder(t *testing.T) {
	t.Parallel()

	defs, err := ParseDefs([]byte(`{
		"zeta":  {"type": "string"},
		"alpha": {"type": "bool"},
		"mid":   {"type": "number"}
	}`))
	if err != nil {
		t.Fatalf("ParseDefs: %v", err)
	}
	got := []string{defs[0].ID, defs[1].ID, defs[2].ID}
	want := []string{"zeta", "alpha", "mid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected key order %v, got %v", want, got)
	}
}

// Both shapes describing the same logical options must normalize to
// identical canonical sequences.
func TestParseDefsShapeRoundTrip(t *testing.T) {
	t.Parallel()

	list, err := ParseDefs([]byte(`[
		{"id": "count", "type": "number", "min": 1, "max": 20, "default": 5},
		{"id": "tags", "type": "string", "label": "Tags"}
	]`))
	if err != nil {
		t.Fatalf("list shape: %v", err)
	}
	mapped, err := ParseDefs([]byte(`{
		"count": {"type": "number", "min": 1, "max": 20, "default": 5},
		"tags":  {"type": "string", "label": "Tags"}
	}`))
	if err != nil {
		t.Fatalf("map shape: %v", err)
	}
	if !reflect.DeepEqual(list, mapped) {
		t.Fatalf("shapes diverged:\nlist: %#v\nmap:  %#v", list, mapped)
	}
}

func TestParseDefsDuplicateID(t *testing.T) {
	t.Parallel()

	_, err := ParseDefs([]byte(`[{"id": "a"}, {"id": "a"}]`))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.ID != "a" {
		t.Fatalf("expected error naming id a, got %#v", err)
	}
}

func TestParseDefsDependsOnSpellings(t *testing.T) {
	t.Parallel()

	defs, err := ParseDefs([]byte(`[
		{"id": "a", "type": "bool"},
		{"id": "b", "depends_on": "a"},
		{"id": "c", "dependsOn": "a"}
	]`))
	if err != nil {
		t.Fatalf("ParseDefs: %v", err)
	}
	if defs[1].DependsOn != "a" || defs[2].DependsOn != "a" {
		t.Fatalf("depends_on spellings not unified: %#v", defs)
	}
}

func TestParseDefsRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want error
	}{
		{"scalar root", `42`, ErrBadDeclaration},
		{"missing id in list", `[{"type": "string"}]`, ErrBadDeclaration},
		{"conflicting embedded id", `{"a": {"id": "b"}}`, ErrBadDeclaration},
		{"unknown kind", `[{"id": "x", "type": "tuple"}]`, ErrUnknownKind},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDefs([]byte(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNormalizeDefaultsKindToString(t *testing.T) {
	t.Parallel()

	defs, err := Normalize([]OptionDef{{ID: "plain"}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if defs[0].Kind != KindString {
		t.Fatalf("expected string kind fill, got %q", defs[0].Kind)
	}
}

// -----------------------------------------------------------------------------
// Resolve: validation rules
// -----------------------------------------------------------------------------

func TestResolveDefaultsFill(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "count", Kind: KindNumber, Min: fptr(1), Max: fptr(20), Default: float64(5)},
		{ID: "tags", Kind: KindString},
		{ID: "safe", Kind: KindBool, Default: true},
	}
	r, err := Resolve(defs, map[string]any{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := r.Int("count", -1); got != 5 {
		t.Fatalf("expected count default 5, got %d", got)
	}
	if got := r.String("tags", "x"); got != "" {
		t.Fatalf("expected zero string fill, got %q", got)
	}
	if !r.Bool("safe", false) {
		t.Fatalf("expected bool default true")
	}
}

func TestResolveOutOfRange(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "count", Kind: KindNumber, Min: fptr(1), Max: fptr(20), Default: float64(5)},
	}
	_, err := Resolve(defs, map[string]any{"count": 25})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.ID != "count" || se.Value != float64(25) || *se.Min != 1 || *se.Max != 20 {
		t.Fatalf("range error fields wrong: %#v", se)
	}
}

func TestResolveMissingRequiredFailsFast(t *testing.T) {
	t.Parallel()

	// The second definition also carries an invalid value; a fail-fast
	// validator must report the missing required option and never reach it.
	defs := []OptionDef{
		{ID: "url", Kind: KindURL, Required: true},
		{ID: "mode", Kind: KindSelect, Choices: []Choice{{Value: "a"}}},
	}
	_, err := Resolve(defs, map[string]any{"mode": "bogus"})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.ID != "url" {
		t.Fatalf("expected failure naming url, got %#v", err)
	}
}

func TestResolveEmptyStringCountsAsAbsent(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{{ID: "url", Kind: KindURL, Required: true}}
	_, err := Resolve(defs, map[string]any{"url": ""})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired for empty string, got %v", err)
	}
}

func TestResolveDependsOnWaivesRequired(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "auth", Kind: KindBool, Default: false},
		{ID: "token", Kind: KindString, Required: true, DependsOn: "auth"},
	}

	// auth falsy: token not required.
	r, err := Resolve(defs, map[string]any{})
	if err != nil {
		t.Fatalf("expected waiver, got %v", err)
	}
	if got := r.String("token", "x"); got != "" {
		t.Fatalf("expected zero fill for waived token, got %q", got)
	}

	// auth truthy: token required again.
	_, err = Resolve(defs, map[string]any{"auth": true})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired with auth on, got %v", err)
	}

	// auth truthy and token given: fine.
	r, err = Resolve(defs, map[string]any{"auth": "yes", "token": "t0k"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := r.String("token", ""); got != "t0k" {
		t.Fatalf("expected token kept, got %q", got)
	}
}

func TestResolveCoercions(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "n", Kind: KindNumber},
		{ID: "r", Kind: KindRange, Min: fptr(0), Max: fptr(10)},
		{ID: "b", Kind: KindBool},
		{ID: "s", Kind: KindString},
	}
	r, err := Resolve(defs, map[string]any{
		"n": "42",
		"r": 7,
		"b": "yes",
		"s": 3.5,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := r.Float("n", -1); got != 42 {
		t.Fatalf("expected n=42, got %v", got)
	}
	if got := r.Int("r", -1); got != 7 {
		t.Fatalf("expected r=7, got %v", got)
	}
	if !r.Bool("b", false) {
		t.Fatalf("expected b=true")
	}
	if got := r.String("s", ""); got != "3.5" {
		t.Fatalf("expected s=3.5 as string, got %q", got)
	}
}

func TestResolveRejectsUncoercible(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{{ID: "n", Kind: KindNumber}}
	_, err := Resolve(defs, map[string]any{"n": "many"})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestResolveSelectMembership(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "size", Kind: KindSelect, Choices: []Choice{{Value: "1080"}, {Value: "4k"}}},
	}

	r, err := Resolve(defs, map[string]any{"size": "4k"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := r.String("size", ""); got != "4k" {
		t.Fatalf("expected 4k, got %q", got)
	}

	_, err = Resolve(defs, map[string]any{"size": "8k"})
	if !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.ID != "size" || se.Value != "8k" {
		t.Fatalf("choice error fields wrong: %#v", se)
	}

	// Absent optional select zero-fills without a membership check.
	r, err = Resolve(defs, map[string]any{})
	if err != nil {
		t.Fatalf("absent select: %v", err)
	}
	if got := r.String("size", "x"); got != "" {
		t.Fatalf("expected empty fill, got %q", got)
	}
}

func TestResolveDefaultOutOfRangeIsSchemaBug(t *testing.T) {
	t.Parallel()

	defs := []OptionDef{
		{ID: "n", Kind: KindNumber, Min: fptr(1), Max: fptr(5), Default: float64(9)},
	}
	_, err := Resolve(defs, map[string]any{})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for bad default, got %v", err)
	}
}

func TestResolvedLookupsNeverFail(t *testing.T) {
	t.Parallel()

	r, err := Resolve([]OptionDef{{ID: "n", Kind: KindNumber, Default: float64(2)}}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := r.String("ghost", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for undeclared id, got %q", got)
	}
	if got := r.Value("ghost", 13); got != 13 {
		t.Fatalf("expected fallback value, got %v", got)
	}
	if r.Has("ghost") {
		t.Fatalf("Has(ghost) = true for undeclared id")
	}
	if !r.Has("n") {
		t.Fatalf("Has(n) = false for declared id")
	}
}
