// Package enums provides type-safe enumeration types shared by the store, the job queue
// and the web API.
//
// Each enum is a string-backed type with a fixed set of exported values. For every type the
// package provides:
//   - String() method for string representation
//   - Parse functions (e.g. ParseStatus) for string-to-enum conversion
//   - Database methods (Scan/Value) so values are stored as plain text columns
//   - Text marshaling (MarshalText/UnmarshalText) for JSON
//
// Usage:
//
//	status := enums.StatusBuildDone
//	fmt.Println(status.String()) // "build_done"
//
//	parsed, err := enums.ParseStatus("needs_build")
//	if err != nil {
//	    // handle invalid input
//	}
package enums

import (
	"database/sql/driver"
	"fmt"
)

// Status is the lifecycle status of a project.
type Status string

// project statuses
const (
	StatusEmptyProject Status = "empty_project"
	StatusNeedsBuild   Status = "needs_build"
	StatusHasChanges   Status = "has_changes"
	StatusBuildDone    Status = "build_done"
	StatusBuildFailed  Status = "build_failed"
	StatusBusy         Status = "busy"
)

// Statuses lists all valid statuses
var Statuses = []Status{StatusEmptyProject, StatusNeedsBuild, StatusHasChanges, StatusBuildDone,
	StatusBuildFailed, StatusBusy}

// ParseStatus converts string to Status
func ParseStatus(v string) (Status, error) {
	for _, s := range Statuses {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid status %q", v)
}

func (s Status) String() string { return string(s) }

// In reports whether s is one of the given statuses
func (s Status) In(statuses ...Status) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) { return []byte(s), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(data []byte) error {
	v, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Scan implements sql.Scanner
func (s *Status) Scan(value any) error {
	switch v := value.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		return fmt.Errorf("status is null")
	default:
		return fmt.Errorf("unsupported status type %T", value)
	}
}

// Value implements driver.Valuer
func (s Status) Value() (driver.Value, error) { return string(s), nil }

// JobKind identifies a background job variant.
type JobKind string

// job kinds
const (
	JobKindBuild            JobKind = "build"
	JobKindAptUpdate        JobKind = "apt_update"
	JobKindAptCommit        JobKind = "apt_commit"
	JobKindGenUpdatePackage JobKind = "gen_update_package"
	JobKindSaveVersion      JobKind = "save_version"
	JobKindCheckoutVersion  JobKind = "checkout_version"
)

// JobKinds lists all valid job kinds
var JobKinds = []JobKind{JobKindBuild, JobKindAptUpdate, JobKindAptCommit, JobKindGenUpdatePackage,
	JobKindSaveVersion, JobKindCheckoutVersion}

// ParseJobKind converts string to JobKind
func ParseJobKind(v string) (JobKind, error) {
	for _, k := range JobKinds {
		if string(k) == v {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid job kind %q", v)
}

func (k JobKind) String() string { return string(k) }

// MarshalText implements encoding.TextMarshaler
func (k JobKind) MarshalText() ([]byte, error) { return []byte(k), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (k *JobKind) UnmarshalText(data []byte) error {
	v, err := ParseJobKind(string(data))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// PkgAction is a pending package cache change
type PkgAction string

// package actions
const (
	PkgActionInstall PkgAction = "install"
	PkgActionUpgrade PkgAction = "upgrade"
	PkgActionDelete  PkgAction = "delete"
	PkgActionKeep    PkgAction = "keep"
)

// ParsePkgAction converts string to PkgAction
func ParsePkgAction(v string) (PkgAction, error) {
	switch a := PkgAction(v); a {
	case PkgActionInstall, PkgActionUpgrade, PkgActionDelete, PkgActionKeep:
		return a, nil
	}
	return "", fmt.Errorf("invalid package action %q", v)
}

func (a PkgAction) String() string { return string(a) }

// UnmarshalText implements encoding.TextUnmarshaler
func (a *PkgAction) UnmarshalText(data []byte) error {
	v, err := ParsePkgAction(string(data))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
