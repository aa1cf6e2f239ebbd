package store

import (
	"fmt"
	"time"
)

// JobConfig holds the configuration of a deconvolution job (checkpoint
// copy). Kept here rather than in the server package to avoid an import
// cycle.
type JobConfig struct {
	DataPath string `json:"dataPath"`
	PSFPath  string `json:"psfPath"`

	// Mu is the regularization level, Epsilon the edge threshold of the
	// regularizer.
	Mu      float64 `json:"mu"`
	Epsilon float64 `json:"epsilon"`

	// Memory selects the optimizer: 0 is conjugate gradient, a positive
	// value is the number of limited-memory quasi-Newton pairs.
	Memory  int `json:"memory"`
	Padding int `json:"padding"`

	// Lower and Upper are optional per-element bounds; nil means the
	// side is absent.
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`

	Gatol    float64 `json:"gatol"`
	Grtol    float64 `json:"grtol"`
	MaxIters int     `json:"maxIters"`
	MaxEvals int     `json:"maxEvals"`

	// CheckpointInterval is the number of seconds between checkpoints
	// during a run (0 = disabled).
	CheckpointInterval int `json:"checkpointInterval,omitempty"`
}

// Checkpoint represents a saved deconvolution state that can be resumed
// later. All fields are serialized to JSON for persistence.
//
// The checkpoint saves the best solution image found so far, but not
// the optimizer's internal state (curvature pairs, line-search
// bracket). Resuming restarts the optimizer from the saved image with a
// fresh state: the reconstruction can only improve from there, but the
// iterate sequence will diverge slightly from an uninterrupted run.
// Saving the full optimizer state would tie the checkpoint format to a
// specific optimizer implementation for little benefit, since the
// limited-memory approximation rebuilds itself within a few iterations.
type Checkpoint struct {
	// JobID is the unique identifier for this deconvolution job.
	JobID string `json:"jobId"`

	// BestSolution is the flat solution image with the lowest cost so
	// far, in the padded variable shape.
	BestSolution []float64 `json:"bestSolution"`

	// Shape is the padded variable shape of BestSolution.
	Shape []int `json:"shape"`

	// BestCost is the composite cost achieved by BestSolution.
	BestCost float64 `json:"bestCost"`

	// InitialCost is the cost at the starting point, for improvement
	// tracking.
	InitialCost float64 `json:"initialCost"`

	// Iteration is the accepted-iteration count at checkpoint time.
	Iteration int `json:"iteration"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during
	// resume: resumed jobs must use compatible settings (same data, PSF,
	// shape).
	Config JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// solution image. Used for listing checkpoints without loading large
// arrays.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	BestCost  float64   `json:"bestCost"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Shape     []int     `json:"shape"`
	DataPath  string    `json:"dataPath"`
	PSFPath   string    `json:"psfPath"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(jobID string, best []float64, shape []int, bestCost, initialCost float64, iteration int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		BestSolution: best,
		Shape:        shape,
		BestCost:     bestCost,
		InitialCost:  initialCost,
		Iteration:    iteration,
		Timestamp:    time.Now(),
		Config:       config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		BestCost:  c.BestCost,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Shape:     c.Shape,
		DataPath:  c.Config.DataPath,
		PSFPath:   c.Config.PSFPath,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestSolution) == 0 {
		return &ValidationError{Field: "BestSolution", Reason: "cannot be empty"}
	}
	if len(c.Shape) == 0 {
		return &ValidationError{Field: "Shape", Reason: "cannot be empty"}
	}
	n := 1
	for _, s := range c.Shape {
		if s <= 0 {
			return &ValidationError{Field: "Shape", Reason: "dimensions must be positive"}
		}
		n *= s
	}
	if len(c.BestSolution) != n {
		return &ValidationError{
			Field:  "BestSolution",
			Reason: fmt.Sprintf("length mismatch: %d values for shape %v", len(c.BestSolution), c.Shape),
		}
	}
	if c.BestCost < 0 {
		return &ValidationError{Field: "BestCost", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.DataPath == "" {
		return &ValidationError{Field: "Config.DataPath", Reason: "cannot be empty"}
	}
	if c.Config.PSFPath == "" {
		return &ValidationError{Field: "Config.PSFPath", Reason: "cannot be empty"}
	}
	if c.Config.Mu < 0 {
		return &ValidationError{Field: "Config.Mu", Reason: "cannot be negative"}
	}
	if c.Config.Epsilon <= 0 {
		return &ValidationError{Field: "Config.Epsilon", Reason: "must be positive"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given
// config. Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.DataPath != config.DataPath {
		return &CompatibilityError{
			Field:    "DataPath",
			Expected: c.Config.DataPath,
			Actual:   config.DataPath,
		}
	}
	if c.Config.PSFPath != config.PSFPath {
		return &CompatibilityError{
			Field:    "PSFPath",
			Expected: c.Config.PSFPath,
			Actual:   config.PSFPath,
		}
	}
	if c.Config.Padding != config.Padding {
		return &CompatibilityError{
			Field:    "Padding",
			Expected: fmt.Sprintf("%d", c.Config.Padding),
			Actual:   fmt.Sprintf("%d", config.Padding),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
