package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/umputun/rootfsd/app/enums"
)

// sentinel errors returned by the store, always wrapped with details
var (
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrValidation         = errors.New("validation failed")
	ErrIO                 = errors.New("filesystem error")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// InvalidStateError reports a status precondition violation, matches ErrInvalidState
type InvalidStateError struct {
	BuildDir string
	Status   enums.Status
	Op       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("project %s is %s, can't %s", e.BuildDir, e.Status, e.Op)
}

// Is makes errors.Is(err, ErrInvalidState) work
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 { // SQLITE_BUSY
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
