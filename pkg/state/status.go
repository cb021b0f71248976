package state

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Status describes one run of the host. It is rewritten at startup and on
// every shutdown phase change.
type Status struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// PID is the host process id.
	PID int `json:"pid"`

	// StartedAt is when the host started.
	StartedAt time.Time `json:"started_at"`

	// Phase is the shutdown phase: Running, ShuttingDown or Finished.
	Phase string `json:"phase"`

	// Trigger names what started the shutdown, if anything has.
	Trigger string `json:"trigger,omitempty"`

	// ExitCode is the process exit status, set once Finished.
	ExitCode *int `json:"exit_code,omitempty"`

	// UpdatedAt is the time of the last write.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStatus returns the status of a run starting now.
func NewStatus() Status {
	now := time.Now()
	return Status{
		RunID:     uuid.NewString(),
		PID:       os.Getpid(),
		StartedAt: now,
		Phase:     "Running",
		UpdatedAt: now,
	}
}

// IsEmpty returns true if no status has been recorded.
func (s Status) IsEmpty() bool {
	return s.RunID == ""
}

// Unfinished reports whether the recorded run never reached Finished.
func (s Status) Unfinished() bool {
	return !s.IsEmpty() && s.Phase != "Finished"
}
