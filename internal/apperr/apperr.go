// Package apperr defines the error taxonomy shared by the instance manager,
// the query executor, and the HTTP API layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the categories the API layer maps to
// an HTTP status and a machine-readable code.
type Kind int

const (
	// Internal is the catch-all kind for errors that don't fit elsewhere.
	Internal Kind = iota
	DbNotFound
	DialectUnsupported
	DialectPullFailed
	QueryTimeout
	QuerySyntaxError
	DbSizeExceeded
	BackupNotFound
	BackupExpired
	RestoreInProgress
	RestoreFailed
	BackupFailed
	Storage
	DockerError
)

var kindInfo = map[Kind]struct {
	status  int
	code    string
	message string
}{
	Internal:            {http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	DbNotFound:          {http.StatusNotFound, "DB_NOT_FOUND", "database instance not found"},
	DialectUnsupported:  {http.StatusBadRequest, "DIALECT_UNSUPPORTED", "unsupported dialect"},
	DialectPullFailed:   {http.StatusServiceUnavailable, "DIALECT_PULL_FAILED", "failed to pull container image"},
	QueryTimeout:        {http.StatusRequestTimeout, "QUERY_TIMEOUT", "query exceeded timeout"},
	QuerySyntaxError:    {http.StatusBadRequest, "QUERY_SYNTAX_ERROR", "sql syntax error"},
	DbSizeExceeded:      {http.StatusRequestEntityTooLarge, "DB_SIZE_EXCEEDED", "database exceeded size limit"},
	BackupNotFound:      {http.StatusNotFound, "BACKUP_NOT_FOUND", "backup not found"},
	BackupExpired:       {http.StatusGone, "BACKUP_EXPIRED", "backup has expired"},
	RestoreInProgress:   {http.StatusConflict, "RESTORE_IN_PROGRESS", "restore already in progress"},
	RestoreFailed:       {http.StatusInternalServerError, "RESTORE_FAILED", "restore failed"},
	BackupFailed:        {http.StatusInternalServerError, "BACKUP_FAILED", "backup failed"},
	Storage:             {http.StatusInternalServerError, "STORAGE_ERROR", "metadata storage error"},
	DockerError:         {http.StatusInternalServerError, "DOCKER_ERROR", "container driver error"},
}

// Error is the concrete error type produced by dbctl's internal packages.
// It always carries a Kind, an optional wrapped cause, and an optional
// human-readable detail string surfaced to API clients.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	info := kindInfo[e.Kind]
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", info.message, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", info.message, e.Cause.Error())
	}
	return info.message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind with an optional detail string.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error of the given kind wrapping cause. If cause is
// already an *Error, its Kind is used instead of the supplied kind so that
// wrapping doesn't downgrade a more specific classification.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus returns the HTTP status code for err, defaulting to 500 for
// errors that are not *Error.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return kindInfo[e.Kind].status
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable error code for err.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return kindInfo[e.Kind].code
	}
	return "INTERNAL_ERROR"
}
