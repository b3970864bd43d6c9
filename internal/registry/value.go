package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// MaxTupleLen bounds Tuple values. Declarations carry short symbolic
// vectors, not data sets.
const MaxTupleLen = 8

// Kind identifies which alternative a Value holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindNumber
	KindString
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTuple:
		return "tuple"
	default:
		return "invalid"
	}
}

func parseKind(s string) Kind {
	switch s {
	case "number":
		return KindNumber
	case "string":
		return KindString
	case "tuple":
		return KindTuple
	default:
		return KindInvalid
	}
}

// Value is an immutable declaration value: a number, a string, or a short
// tuple of numbers. The zero Value is invalid and cannot be declared.
type Value struct {
	kind  Kind
	num   float64
	str   string
	tuple []float64
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Tuple returns a tuple Value. The input slice is copied.
func Tuple(fs ...float64) Value { return Value{kind: KindTuple, tuple: slices.Clone(fs)} }

// Kind reports which alternative v holds.
func (v Value) Kind() Kind { return v.kind }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsTuple returns a copy of the tuple held by v.
func (v Value) AsTuple() ([]float64, bool) {
	if v.kind != KindTuple {
		return nil, false
	}
	return slices.Clone(v.tuple), true
}

// Equal reports whether two values are the same kind with the same content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindTuple:
		return slices.Equal(v.tuple, o.tuple)
	default:
		return true
	}
}

// String renders v for humans: numbers and tuples in shortest decimal form,
// strings quoted.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatFloat(v.num)
	case KindString:
		return strconv.Quote(v.str)
	case KindTuple:
		parts := make([]string, len(v.tuple))
		for i, f := range v.tuple {
			parts[i] = formatFloat(f)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return "<invalid>"
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// validate returns a reason string if v cannot be declared.
func (v Value) validate() string {
	switch v.kind {
	case KindNumber:
		if !finite(v.num) {
			return fmt.Sprintf("number %v is not finite", v.num)
		}
	case KindString:
	case KindTuple:
		if len(v.tuple) == 0 {
			return "tuple must not be empty"
		}
		if len(v.tuple) > MaxTupleLen {
			return fmt.Sprintf("tuple has %d elements, max %d", len(v.tuple), MaxTupleLen)
		}
		for i, f := range v.tuple {
			if !finite(f) {
				return fmt.Sprintf("tuple[%d] = %v is not finite", i, f)
			}
		}
	default:
		return "value kind must be number, string or tuple"
	}
	return ""
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

type valueJSON struct {
	Kind   string    `json:"kind"`
	Number *float64  `json:"number,omitempty"`
	String *string   `json:"string,omitempty"`
	Tuple  []float64 `json:"tuple,omitempty"`
}

// MarshalJSON encodes v as {"kind": ..., "<kind>": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	switch v.kind {
	case KindNumber:
		out.Number = &v.num
	case KindString:
		out.String = &v.str
	case KindTuple:
		out.Tuple = v.tuple
	default:
		return nil, fmt.Errorf("cannot marshal invalid value")
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON form and validates the result.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var out Value
	switch parseKind(in.Kind) {
	case KindNumber:
		if in.Number == nil {
			return fmt.Errorf("number value missing")
		}
		out = Number(*in.Number)
	case KindString:
		if in.String == nil {
			return fmt.Errorf("string value missing")
		}
		out = String(*in.String)
	case KindTuple:
		out = Tuple(in.Tuple...)
	default:
		return fmt.Errorf("unknown value kind %q", in.Kind)
	}
	if reason := out.validate(); reason != "" {
		return fmt.Errorf("invalid value: %s", reason)
	}
	*v = out
	return nil
}
