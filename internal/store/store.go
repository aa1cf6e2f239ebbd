package store

// Store persists job checkpoints. Implementations must tolerate
// concurrent callers and report a missing checkpoint from Load and
// Delete as a NotFoundError; all other failures are wrapped with
// context.
type Store interface {
	// SaveCheckpoint writes the checkpoint for a job, atomically
	// replacing any previous one. A reader must never observe a
	// partially written checkpoint.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint reads the checkpoint for a job.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every stored checkpoint;
	// the slice is empty when none exist.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint together with the
	// artifacts stored next to it: the convergence trace and the
	// best/residual result images.
	DeleteCheckpoint(jobID string) error
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint error.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
