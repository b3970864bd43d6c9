package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyOwner is returned when a declaration has no owner type.
	ErrEmptyOwner = errors.New("owner type must not be empty")

	// ErrEmptyName is returned when a declaration has no name.
	ErrEmptyName = errors.New("declaration name must not be empty")
)

// DuplicateDeclarationError reports a re-declaration of (Owner, Name) with a
// value different from the one already registered. Registry state is
// unchanged when this is returned.
type DuplicateDeclarationError struct {
	Owner    string
	Name     string
	Existing Value
	Proposed Value
}

func (e *DuplicateDeclarationError) Error() string {
	return fmt.Sprintf("duplicate declaration %s.%s: already %s, refusing %s",
		e.Owner, e.Name, e.Existing, e.Proposed)
}

// UnknownDeclarationError reports a lookup of an absent (Owner, Name).
type UnknownDeclarationError struct {
	Owner string
	Name  string
}

func (e *UnknownDeclarationError) Error() string {
	return fmt.Sprintf("unknown declaration %s.%s", e.Owner, e.Name)
}

// InvalidValueError reports a value outside the declarable set.
type InvalidValueError struct {
	Owner  string
	Name   string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s.%s: %s", e.Owner, e.Name, e.Reason)
}

// IsDuplicate returns true if err is or wraps a DuplicateDeclarationError.
func IsDuplicate(err error) bool {
	var de *DuplicateDeclarationError
	return errors.As(err, &de)
}

// IsUnknown returns true if err is or wraps an UnknownDeclarationError.
func IsUnknown(err error) bool {
	var ue *UnknownDeclarationError
	return errors.As(err, &ue)
}
