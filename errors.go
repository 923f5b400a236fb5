package tether

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tetherorm/tether/logger"
)

// Sentinel errors for common failure cases
var (
	// ErrNotFound is returned when a query expecting a row returns none.
	// Shared with the logger package so IgnoreRecordNotFoundError matches.
	ErrNotFound = logger.ErrRecordNotFound

	// ErrNoTableBinding is returned when a model type declares no table
	ErrNoTableBinding = errors.New("tether: model declares no table binding")

	// ErrRelationNotFound is returned when a relation name resolves to nothing
	ErrRelationNotFound = errors.New("tether: relation not found")

	// ErrUnknownRelationKind is returned for a relation kind outside the closed set
	ErrUnknownRelationKind = errors.New("tether: unknown relation kind")

	// ErrRestricted is returned when a restrict policy blocks a cascading delete
	ErrRestricted = errors.New("tether: delete restricted by dependent rows")

	// ErrNotPivot is returned when a pivot operation targets a non many-to-many relation
	ErrNotPivot = errors.New("tether: relation has no pivot table")

	// ErrInvalidQuery is returned when builder methods were misused
	ErrInvalidQuery = errors.New("tether: invalid query construction")

	// ErrNilEntity is returned when a nil entity is passed to an engine operation
	ErrNilEntity = errors.New("tether: nil entity")
)

// MetadataError wraps registry failures with the model type for context.
type MetadataError struct {
	Model string // Short name of the model type
	Err   error  // The underlying error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("tether: metadata for %s: %v", e.Model, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// RelationError wraps relation resolution and cascade failures with context.
type RelationError struct {
	Relation string // Name of the relation
	Model    string // Short name of the owning model type
	Err      error  // The underlying error
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("tether: relation %q on %s: %v", e.Relation, e.Model, e.Err)
}

func (e *RelationError) Unwrap() error {
	return e.Err
}

// QueryError wraps storage errors with statement context for debugging.
// The underlying driver error is preserved unmodified through Unwrap.
type QueryError struct {
	Query     string // The SQL statement that failed
	Args      []any  // The bound arguments
	Operation string // Operation type: SELECT, INSERT, UPDATE, DELETE
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("tether: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, formatArgs(e.Args))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// wrapMetadataError attaches the model type to a registry failure.
func wrapMetadataError(model string, err error) error {
	if err == nil {
		return nil
	}
	return &MetadataError{Model: model, Err: err}
}

// wrapRelationError attaches relation and model context to an error.
func wrapRelationError(relation, model string, err error) error {
	if err == nil {
		return nil
	}
	return &RelationError{Relation: relation, Model: model, Err: err}
}

// wrapQueryError attaches statement context to a storage error. Absence from
// a single-row read is mapped to ErrNotFound; every other cause passes through
// untouched so callers can unwrap the driver error.
func wrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// IsNotFound reports whether err represents an expected-absence result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsRestricted reports whether err was raised by a restrict cascade policy.
func IsRestricted(err error) bool {
	return errors.Is(err, ErrRestricted)
}

// formatArgs formats bound arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
