// Package manifest reads declaration manifests written in CUE and applies
// them to a registry.
//
// A manifest declares symbols per owner type under the top-level "declare"
// field:
//
//	declare: ORION: {
//		origin:    "Genesis10000+"
//		tracked:   "true"
//		resonance: [1, 0.5]
//	}
//
// Values must be concrete strings, numbers, or non-empty lists of numbers.
// Entries keep source order, so applying a manifest assigns registry
// positions in the order the file lists them.
package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/sigil/internal/registry"
)

// Entry is one declaration read from a manifest.
type Entry struct {
	Owner string
	Name  string
	Value registry.Value
	Pos   token.Pos
}

// Manifest is the ordered list of declarations in one or more files.
type Manifest struct {
	Entries []Entry
}

// Error reports a malformed manifest, with the CUE position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Parse compiles a single manifest source. filename is used in positions.
func Parse(filename string, src []byte) (*Manifest, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return Compile(v)
}

// Compile extracts declarations from a built CUE value.
func Compile(v cue.Value) (*Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Manifest{}
	declVal := v.LookupPath(cue.ParsePath("declare"))
	if !declVal.Exists() {
		return nil, &Error{
			Field:   "declare",
			Message: "declare is required",
			Pos:     v.Pos(),
		}
	}

	owners, err := declVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for owners.Next() {
		owner := owners.Label()
		names, err := owners.Value().Fields()
		if err != nil {
			return nil, &Error{
				Field:   "declare." + owner,
				Message: "must be a struct of name: value pairs",
				Pos:     owners.Value().Pos(),
			}
		}
		for names.Next() {
			name := names.Label()
			value, err := toValue(names.Value())
			if err != nil {
				return nil, &Error{
					Field:   "declare." + owner + "." + name,
					Message: err.Error(),
					Pos:     names.Value().Pos(),
				}
			}
			m.Entries = append(m.Entries, Entry{
				Owner: owner,
				Name:  name,
				Value: value,
				Pos:   names.Value().Pos(),
			})
		}
	}
	return m, nil
}

// Apply declares every entry in order. It stops at the first failure, so a
// conflicting entry leaves the entries before it declared.
func (m *Manifest) Apply(reg *registry.Registry) error {
	for _, e := range m.Entries {
		if err := reg.Declare(e.Owner, e.Name, e.Value); err != nil {
			if e.Pos.IsValid() {
				return fmt.Errorf("%s:%d: %w", e.Pos.Filename(), e.Pos.Line(), err)
			}
			return err
		}
	}
	return nil
}

// Owners returns the distinct owners in first-seen order.
func (m *Manifest) Owners() []string {
	seen := make(map[string]bool)
	var owners []string
	for _, e := range m.Entries {
		if !seen[e.Owner] {
			seen[e.Owner] = true
			owners = append(owners, e.Owner)
		}
	}
	return owners
}

func toValue(v cue.Value) (registry.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return registry.Value{}, fmt.Errorf("value must be concrete")
	}

	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return registry.Value{}, err
		}
		return registry.String(s), nil
	case cue.IntKind, cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return registry.Value{}, err
		}
		return registry.Number(f), nil
	case cue.ListKind:
		items, err := v.List()
		if err != nil {
			return registry.Value{}, err
		}
		var fs []float64
		for items.Next() {
			elem := items.Value()
			if k := elem.Kind(); k != cue.IntKind && k != cue.FloatKind {
				return registry.Value{}, fmt.Errorf("tuple element %d is %s, want number", len(fs), k)
			}
			f, err := elem.Float64()
			if err != nil {
				return registry.Value{}, err
			}
			fs = append(fs, f)
		}
		return registry.Tuple(fs...), nil
	case cue.BoolKind:
		return registry.Value{}, fmt.Errorf(`booleans are not declarable; write "true" or "false" as a string`)
	default:
		return registry.Value{}, fmt.Errorf("unsupported value kind %s", v.Kind())
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
