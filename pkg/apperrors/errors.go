package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrCatalogNotFound  = errors.New("catalog not found")
	ErrInvalidCatalog   = errors.New("invalid catalog")
	ErrDatabaseNotFound = errors.New("unknown database")
	ErrTableExists      = errors.New("table already exists")
	ErrTableNotFound    = errors.New("unknown table")
	ErrProviderFailure  = errors.New("metadata provider failure")
	ErrSinkCommitFailed = errors.New("table sink commit failed")
)

// ErrorCode is a MySQL-compatible error number reported to SQL clients.
type ErrorCode int

const (
	ErrCodeBadDB       ErrorCode = 1049
	ErrCodeTableExists ErrorCode = 1050
	ErrCodeBadTable    ErrorCode = 1051
	ErrCodeBadCatalog  ErrorCode = 1105
)

// DDLError is a DDL failure carrying a structured code and the offending identifier.
type DDLError struct {
	Code       ErrorCode
	Identifier string
	Err        error
}

// NewDDLError builds a DDLError. err should be one of the sentinels above.
func NewDDLError(code ErrorCode, identifier string, err error) *DDLError {
	return &DDLError{Code: code, Identifier: identifier, Err: err}
}

func (e *DDLError) Error() string {
	switch e.Code {
	case ErrCodeBadDB:
		return fmt.Sprintf("Unknown database '%s'", e.Identifier)
	case ErrCodeTableExists:
		return fmt.Sprintf("Table '%s' already exists", e.Identifier)
	case ErrCodeBadTable:
		return fmt.Sprintf("Unknown table '%s'", e.Identifier)
	case ErrCodeBadCatalog:
		return fmt.Sprintf("Invalid catalog %s, connector metadata doesn't exist", e.Identifier)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Identifier)
}

func (e *DDLError) Unwrap() error {
	return e.Err
}

// FederationError reports a provider failure during a mutating operation,
// with the full addressing context. The provider's error is preserved.
type FederationError struct {
	Op      string
	Catalog string
	DB      string
	Table   string
	Err     error
}

func (e *FederationError) Error() string {
	return fmt.Sprintf("failed to %s %s.%s.%s. msg: %v", e.Op, e.Catalog, e.DB, e.Table, e.Err)
}

func (e *FederationError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}

// SinkCommitError is the single error shape for connector sink commits.
// Multi-phase commit callers match it with errors.Is(err, ErrSinkCommitFailed)
// regardless of connector type.
type SinkCommitError struct {
	Catalog string
	DB      string
	Table   string
	Message string
	Err     error
}

// NewSinkCommitError wraps a provider failure into a SinkCommitError.
func NewSinkCommitError(catalog, db, table string, err error) *SinkCommitError {
	return &SinkCommitError{
		Catalog: catalog,
		DB:      db,
		Table:   table,
		Message: err.Error(),
		Err:     err,
	}
}

func (e *SinkCommitError) Error() string {
	return e.Message
}

func (e *SinkCommitError) Unwrap() []error {
	return []error{ErrSinkCommitFailed, e.Err}
}
