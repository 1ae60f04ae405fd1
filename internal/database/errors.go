package database

import (
	"errors"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

type ConstraintError struct {
	Type       string
	Table      string
	Column     string
	Constraint string
	Message    string
	Cause      error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var (
	fkPattern     = regexp.MustCompile(`FOREIGN KEY constraint failed`)
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
	checkRegex    = regexp.MustCompile(`CHECK constraint failed`)
)

// ClassifyError maps driver-specific constraint failures onto
// *ConstraintError. Other errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr, err)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if ce := classifySQLiteCode(sqliteErr.Code(), err); ce != nil {
			return ce
		}
	}

	return classifyMessage(err)
}

func classifyPostgres(pqErr *pq.Error, err error) error {
	ce := &ConstraintError{
		Table:      pqErr.Table,
		Column:     pqErr.Column,
		Constraint: pqErr.Constraint,
	}

	switch pqErr.Code.Name() {
	case "unique_violation":
		ce.Type, ce.Cause, ce.Message = "unique", ErrUniqueViolation, "A record with this value already exists"
	case "foreign_key_violation":
		ce.Type, ce.Cause, ce.Message = "foreign_key", ErrForeignKey, "Referenced record does not exist"
	case "not_null_violation":
		ce.Type, ce.Cause, ce.Message = "not_null", ErrNotNull, "Required field is missing"
		if ce.Column != "" {
			ce.Message = "Field '" + ce.Column + "' is required"
		}
	case "check_violation":
		ce.Type, ce.Cause, ce.Message = "check", ErrCheckConstraint, "Value does not meet requirements"
	default:
		return err
	}

	return ce
}

func classifySQLiteCode(code int, err error) *ConstraintError {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "A record with this value already exists",
		}
		if matches := uniquePattern.FindStringSubmatch(err.Error()); len(matches) == 2 {
			ce.Table, ce.Column = splitQualified(matches[1])
			if ce.Column != "" {
				ce.Message = "A record with this '" + ce.Column + "' already exists"
			}
		}
		return ce
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return &ConstraintError{Type: "foreign_key", Cause: ErrForeignKey, Message: "Referenced record does not exist"}
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		ce := &ConstraintError{Type: "not_null", Cause: ErrNotNull, Message: "Required field is missing"}
		if matches := notNullRegex.FindStringSubmatch(err.Error()); len(matches) == 2 {
			ce.Table, ce.Column = splitQualified(matches[1])
			if ce.Column != "" {
				ce.Message = "Field '" + ce.Column + "' is required"
			}
		}
		return ce
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return &ConstraintError{Type: "check", Cause: ErrCheckConstraint, Message: "Value does not meet requirements"}
	}
	return nil
}

// classifyMessage is the fallback for wrapped or driverless errors that only
// carry SQLite's message text.
func classifyMessage(err error) error {
	errStr := err.Error()

	if fkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "foreign_key",
			Cause:   ErrForeignKey,
			Message: "Referenced record does not exist",
		}
	}

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "A record with this value already exists",
		}
		ce.Table, ce.Column = splitQualified(matches[1])
		if ce.Column != "" {
			ce.Message = "A record with this '" + ce.Column + "' already exists"
		}
		return ce
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "not_null",
			Cause:   ErrNotNull,
			Message: "Required field is missing",
		}
		ce.Table, ce.Column = splitQualified(matches[1])
		if ce.Column != "" {
			ce.Message = "Field '" + ce.Column + "' is required"
		}
		return ce
	}

	if checkRegex.MatchString(errStr) {
		return &ConstraintError{
			Type:    "check",
			Cause:   ErrCheckConstraint,
			Message: "Value does not meet requirements",
		}
	}

	return err
}

// splitQualified splits "table.column" and tolerates a trailing comma from
// multi-column unique failures ("t.a, t.b").
func splitQualified(s string) (table, column string) {
	s = strings.TrimSuffix(s, ",")
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

func IsUniqueError(err error) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Type == "unique"
	}
	return false
}

func AsConstraintError(err error) *ConstraintError {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
