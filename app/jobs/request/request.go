// Package request contains request types for job event handlers
package request

import (
	"time"

	"github.com/umputun/rootfsd/app/enums"
)

// OnJobStart contains parameters for job start event
type OnJobStart struct {
	Seq       uint64 // acceptance order, increasing
	Kind      enums.JobKind
	BuildDir  string
	StartTime time.Time
}

// OnJobComplete contains parameters for job completion event
type OnJobComplete struct {
	Seq       uint64
	Kind      enums.JobKind
	BuildDir  string
	StartTime time.Time
	EndTime   time.Time
	Status    enums.Status // status the project was reset to
	Err       error
}
