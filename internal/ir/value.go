package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// IRValue is a sealed interface representing the values that can be hashed.
// Only IRString, IRInt, IRFloat, IRBool, IRNull, IRArray, and IRObject
// implement this.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRString represents a string value.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value. Always int64, never float64.
type IRInt int64

func (IRInt) irValue() {}

// IRFloat represents a finite non-integral or out-of-int64-range number.
// NaN and infinities have no JSON form and never become an IRFloat.
type IRFloat float64

func (IRFloat) irValue() {}

// IRNull represents JSON null.
type IRNull struct{}

func (IRNull) irValue() {}

// IRBool represents a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray represents an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject represents a map of string keys to values.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for astral runes.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// FromGo converts an arbitrary Go value into an IRValue.
//
// Strings, bools, integers, finite floats, nil, json.Number, and slices,
// arrays and maps of those convert directly. Structs, non-string-keyed maps
// and json.Marshaler implementations go through encoding/json first, so they
// hash exactly as they would serialize. NaN, infinities and values
// encoding/json cannot marshal (channels, funcs) are rejected.
func FromGo(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case json.Number:
		return numberToIR(val)
	case json.Marshaler:
		return viaJSON(val)
	}
	return reflectToIR(reflect.ValueOf(v))
}

func reflectToIR(rv reflect.Value) (IRValue, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return IRNull{}, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return IRNull{}, nil
		}
		return FromGo(rv.Elem().Interface())
	case reflect.String:
		return IRString(rv.String()), nil
	case reflect.Bool:
		return IRBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IRInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return IRFloat(float64(u)), nil
		}
		return IRInt(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return floatToIR(rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return IRNull{}, nil
		}
		arr := make(IRArray, rv.Len())
		for i := range arr {
			elem, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = elem
		}
		return arr, nil
	case reflect.Map:
		if rv.IsNil() {
			return IRNull{}, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return viaJSON(rv.Interface())
		}
		obj := make(IRObject, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			elem, err := FromGo(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = elem
		}
		return obj, nil
	case reflect.Struct:
		return viaJSON(rv.Interface())
	default:
		return nil, fmt.Errorf("unsupported type: %s", rv.Type())
	}
}

// viaJSON converts v by marshalling it with encoding/json and parsing the
// result back, keeping integer precision.
func viaJSON(v any) (IRValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%T: %w", v, err)
	}
	return UnmarshalIRValue(data)
}

func floatToIR(f float64) (IRValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number %v is not finite", f)
	}
	return IRFloat(f), nil
}

// numberToIR keeps integers exact while they fit in int64; anything else is
// an IEEE double, as in RFC 8785.
func numberToIR(n json.Number) (IRValue, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return IRInt(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("number %s: %w", s, err)
	}
	return floatToIR(f)
}

// UnmarshalIRValue parses a single JSON value into an IRValue. Integers stay
// exact; this is the entry point for payloads that arrive as text.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return FromGo(raw)
}

// ToGo converts an IRValue back to plain Go values (string, int64, float64,
// bool, nil, []any, map[string]any). Used when handing values to encoders that do not
// know about IR types.
func ToGo(v IRValue) any {
	switch val := v.(type) {
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRFloat:
		return float64(val)
	case IRBool:
		return bool(val)
	case IRArray:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case IRObject:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}
