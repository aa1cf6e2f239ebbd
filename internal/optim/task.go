// Package optim implements reverse-communication iterative optimizers
// (nonlinear conjugate gradient, limited-memory BFGS, and a projected
// variant for simple bound constraints) together with the line-search
// state machines driving them.
//
// The protocol is synchronous and caller-driven: Start returns the first
// task (always TaskComputeFG), the caller evaluates cost and gradient at
// the current point and calls Iterate, which returns the next task.
// There are no callbacks and no background goroutines; suspension is
// purely logical.
package optim

import "errors"

// Task is the reverse-communication state handed back to the caller
// after every Start or Iterate call.
type Task int

const (
	// TaskComputeFG requests the cost and gradient at the current x.
	// It may be returned several times during one line search.
	TaskComputeFG Task = 1 + iota
	// TaskNewX signals that a full step has been accepted; the caller
	// may inspect progress and optionally stop early.
	TaskNewX
	// TaskFinalX signals that the convergence criterion is satisfied.
	// Terminal.
	TaskFinalX
	// TaskWarning signals a recoverable condition (budget exceeded,
	// line search unable to improve). Terminal; the best solution so
	// far is still usable.
	TaskWarning
	// TaskError signals an unrecoverable failure. Terminal.
	TaskError
)

func (t Task) String() string {
	switch t {
	case TaskComputeFG:
		return "compute-fg"
	case TaskNewX:
		return "new-x"
	case TaskFinalX:
		return "final-x"
	case TaskWarning:
		return "warning"
	case TaskError:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further Iterate calls are expected.
func (t Task) Terminal() bool {
	return t == TaskFinalX || t == TaskWarning || t == TaskError
}

var (
	// ErrNotStarted is reported when Iterate is called on an optimizer
	// that was never started or has already reached a terminal task.
	ErrNotStarted = errors.New("optim: iterate called outside a run")
	// ErrNonDescent is reported when the initial direction of a line
	// search has a nonnegative directional derivative.
	ErrNonDescent = errors.New("optim: not a descent direction")
	// ErrMaxIterations is the warning reason when the iteration budget
	// is exhausted.
	ErrMaxIterations = errors.New("optim: maximum iterations reached")
	// ErrMaxEvaluations is the warning reason when the evaluation
	// budget is exhausted.
	ErrMaxEvaluations = errors.New("optim: maximum evaluations reached")
)
