package optim

// SearchStatus is the externally visible state of a line search.
type SearchStatus int

const (
	// SearchInProgress means the caller must evaluate the function and
	// directional derivative at the returned step and call Iterate
	// again.
	SearchInProgress SearchStatus = iota
	// SearchConverged means the current step is satisfactory.
	SearchConverged
	// SearchWarning means no better step can be found (step at a
	// bracket bound, interval below tolerance, rounding errors); the
	// current step at least satisfies the sufficient-decrease
	// condition.
	SearchWarning
	// SearchError means the search cannot proceed (non-descent initial
	// direction, invalid inputs).
	SearchError
)

func (s SearchStatus) String() string {
	switch s {
	case SearchInProgress:
		return "in-progress"
	case SearchConverged:
		return "converged"
	case SearchWarning:
		return "warning"
	case SearchError:
		return "error"
	}
	return "unknown"
}

// LineSearch is a one-dimensional search along a fixed direction,
// driven as a state machine by repeated (step, value, derivative)
// observations.
//
// Start begins a search from step length step, given the function value
// f0 and directional derivative df0 at step zero. df0 must be negative;
// a nonnegative value is rejected with ErrNonDescent. Iterate consumes
// the value and derivative observed at the current step and returns the
// next trial step together with the search status.
type LineSearch interface {
	Start(f0, df0, step, stepMin, stepMax float64) (SearchStatus, error)
	Iterate(f, df float64) (float64, SearchStatus)
	// Step returns the current trial step.
	Step() float64
	// Err describes a SearchWarning or SearchError outcome.
	Err() error
}
