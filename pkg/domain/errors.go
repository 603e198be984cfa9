package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrNotFound                   = errors.New("row not found")
	ErrConflict                   = errors.New("conflict")
	ErrMissingField               = errors.New("missing required field")
	ErrUnknownTable               = errors.New("unknown table")
	ErrStructuralValidation       = errors.New("structural validation failed")
	ErrIllegalStructuralOperation = errors.New("illegal structural operation")
	ErrIllegalArgument            = errors.New("illegal argument")
)

// NotFoundError reports that a row addressed by a complete primary key does
// not exist. The request resolver treats it as "insert instead".
type NotFoundError struct {
	Table string
	Key   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s row not found for %s", e.Table, e.Key)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// MissingFieldError reports required insert columns absent from a row descriptor.
type MissingFieldError struct {
	Table  string
	Fields []string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("columns [%s] missing and required for insert into table %s",
		strings.Join(e.Fields, ", "), e.Table)
}

// Is matches ErrMissingField.
func (e MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// UnknownTableError reports a request key naming a table with no handler.
type UnknownTableError struct {
	Table string
}

func (e UnknownTableError) Error() string {
	return fmt.Sprintf("no table handler named %q", e.Table)
}

// Is matches ErrUnknownTable.
func (e UnknownTableError) Is(target error) bool { return target == ErrUnknownTable }

// StructuralValidationError lists sequela ids that carry rei rows but have no
// hierarchy row in the version.
type StructuralValidationError struct {
	VersionID int
	Missing   []int
}

func (e StructuralValidationError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("sequela ids [%s] have rows in %s but no corresponding rows in %s for sequela_set_version %d",
		strings.Join(ids, ", "), EntityRei, EntityHierarchy, e.VersionID)
}

// Is matches ErrStructuralValidation.
func (e StructuralValidationError) Is(target error) bool { return target == ErrStructuralValidation }

// IllegalStructuralOperationError reports a mutation the data-model layer refuses.
type IllegalStructuralOperationError struct {
	Table     string
	Operation string
}

func (e IllegalStructuralOperationError) Error() string {
	return fmt.Sprintf("%s not allowed on %s rows; use the request table handler", e.Operation, e.Table)
}

// Is matches ErrIllegalStructuralOperation.
func (e IllegalStructuralOperationError) Is(target error) bool {
	return target == ErrIllegalStructuralOperation
}

// IllegalArgumentError reports a caller precondition violation, such as a
// reparent target that is not part of the version.
type IllegalArgumentError struct {
	Reason string
}

func (e IllegalArgumentError) Error() string { return "illegal argument: " + e.Reason }

// Is matches ErrIllegalArgument.
func (e IllegalArgumentError) Is(target error) bool { return target == ErrIllegalArgument }
