// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. For example, ErrNotFound indicates that no active row
// matched, while ErrConflict signals that a write collided with the
// single-active constraint of another concurrent write.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist or is no
// longer active. Services translate this into a NotFoundError.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert violates a unique constraint,
// such as a second active mapping for the same sentence. Handlers
// should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// isUniqueViolation reports whether err is a duplicate-key error from
// MySQL (1062) or SQLite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
