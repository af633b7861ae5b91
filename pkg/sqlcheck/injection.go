// Package sqlcheck guards text that SQL connectors splice into DDL they
// render for the remote system.
package sqlcheck

import (
	"errors"
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// ErrUnsafeDDL is returned when a statement fragment looks like SQL injection
// or is not a well-formed type name.
var ErrUnsafeDDL = errors.New("unsafe DDL fragment")

// A column type is a word list with optional precision and array suffix:
// "integer", "double precision", "varchar(255)", "numeric(10, 2)", "text[]".
var columnTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?(\[\])?$`)

// InjectionCheckResult contains the result of an injection check on a value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string // Statement field that failed the check
	Value       string // The value that was checked
}

// CheckValue uses libinjection to detect SQL injection patterns in value.
// Returns nil if no injection is detected.
func CheckValue(field, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Field:       field,
		Value:       value,
	}
}

// ValidateColumnType checks that typ can be rendered verbatim as a column type.
func ValidateColumnType(typ string) error {
	if !columnTypePattern.MatchString(typ) {
		return fmt.Errorf("%w: invalid column type %q", ErrUnsafeDDL, typ)
	}
	return nil
}

// ValidateCreateTable checks every free-text fragment of stmt that a SQL
// connector renders without quoting: column types, default expressions and
// comments. Identifiers are always quoted by the connectors and are not
// checked here.
func ValidateCreateTable(stmt *models.CreateTableStmt) error {
	if stmt == nil {
		return fmt.Errorf("%w: nil statement", ErrUnsafeDDL)
	}
	if len(stmt.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", ErrUnsafeDDL, stmt.Name)
	}

	for _, col := range stmt.Columns {
		if err := ValidateColumnType(col.Type); err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		if col.Default != nil {
			if r := CheckValue(col.Name+".default", *col.Default); r != nil {
				return r.err()
			}
		}
		if r := CheckValue(col.Name+".comment", col.Comment); r != nil {
			return r.err()
		}
	}

	if r := CheckValue("comment", stmt.Comment); r != nil {
		return r.err()
	}
	return nil
}

func (r *InjectionCheckResult) err() error {
	return fmt.Errorf("%w: %s matches injection fingerprint %s", ErrUnsafeDDL, r.Field, r.Fingerprint)
}
