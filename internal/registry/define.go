package registry

import (
	"fmt"
	"reflect"
)

// Symbol is a name/value pair for Define.
type Symbol struct {
	Name  string
	Value Value
}

// S is shorthand for Symbol.
// Example: MustDefine[Orion](r, S("origin", String("Genesis10000+")))
func S(name string, value Value) Symbol {
	return Symbol{Name: name, Value: value}
}

// OwnerOf returns the owner identifier of T: its import path and name, e.g.
// "github.com/acme/app/model.Orion". Pointer types resolve to their element
// type. Unnamed types fall back to their Go syntax.
func OwnerOf[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// Define declares every symbol for the owner of T, stopping at the first
// failure. Declarations made before the failure stay registered.
//
// It plays the role of a type decorator: call it from a package-level var
// or init block next to the type definition.
func Define[T any](r *Registry, symbols ...Symbol) (string, error) {
	owner := OwnerOf[T]()
	for _, s := range symbols {
		if err := r.Declare(owner, s.Name, s.Value); err != nil {
			return owner, fmt.Errorf("define %s: %w", owner, err)
		}
	}
	return owner, nil
}

// MustDefine is like Define but panics on error. Intended for package-level
// registration where a conflict is a programming error:
//
//	var orionOwner = registry.MustDefine[Orion](registry.Default(),
//		registry.S("origin", registry.String("Genesis10000+")),
//		registry.S(registry.TrackedName, registry.String(registry.TrackedValue)),
//	)
func MustDefine[T any](r *Registry, symbols ...Symbol) string {
	owner, err := Define[T](r, symbols...)
	if err != nil {
		panic(err)
	}
	return owner
}
