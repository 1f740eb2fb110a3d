package session

import (
	"errors"
	"fmt"
)

// session errors
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoOpenProject    = errors.New("no project opened")
)

// AlreadyOpenError is returned when another caller holds the project open
type AlreadyOpenError struct {
	BuildDir string
	Holder   string // name of the caller holding the project
	HolderID int64
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("project %s is already opened by %s", e.BuildDir, e.Holder)
}
