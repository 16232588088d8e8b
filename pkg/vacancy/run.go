package vacancy

import (
	"time"

	"github.com/google/uuid"
)

// Run identifies one execution of the pipeline. All destinations and records
// produced within a run share its ID and start time.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
}

// NewRun creates a run starting now.
func NewRun() Run {
	return NewRunAt(time.Now())
}

// NewRunAt creates a run with a fixed start time.
func NewRunAt(t time.Time) Run {
	return Run{ID: uuid.New(), StartedAt: t}
}

// Stamp formats the start time for file names: 20060102_150405.
func (r Run) Stamp() string {
	return r.StartedAt.Format("20060102_150405")
}

// Day formats the start date for index and table names: 20060102.
func (r Run) Day() string {
	return r.StartedAt.Format("20060102")
}

// RunTime is the value stamped into every record of the run.
func (r Run) RunTime() string {
	return r.StartedAt.UTC().Format(time.RFC3339)
}

// StampDocument adds run identity fields to the document in place.
func (r Run) StampDocument(doc Document) {
	doc[FieldRunTime] = r.RunTime()
	doc[FieldRunID] = r.ID.String()
}
