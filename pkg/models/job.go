package models

import (
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

// JobStatus constants
const (
	JobStatusPlanned    JobStatus = "planned"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPlanned, JobStatusInProgress, JobStatusDone, JobStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Active reports whether the job still holds its target filename.
func (s JobStatus) Active() bool {
	return s == JobStatusPlanned || s == JobStatusInProgress
}

// CanTransition reports whether moving from s to next is legal.
// planned -> done is the fast path for a target that already exists.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPlanned:
		return next == JobStatusInProgress || next == JobStatusDone
	case JobStatusInProgress:
		return next == JobStatusDone || next == JobStatusError
	}
	return false
}

// ExtractionJob tracks one OCR extraction from queueing to completion.
// The JSON shape is the status record served to clients.
type ExtractionJob struct {
	ID             string    `json:"id" db:"id"`
	TargetFilename string    `json:"targetFilename" db:"target_filename"`
	Status         JobStatus `json:"status" db:"status"`
	SourceItemID   string    `json:"sourceItemId" db:"source_item_id"`
	SourceItemName string    `json:"sourceItemName" db:"source_item_name"`
	ErrorMessage   string    `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// Clone returns a copy safe to hand out of a locked structure.
func (j *ExtractionJob) Clone() *ExtractionJob {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}
