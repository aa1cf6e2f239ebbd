package optim

import (
	"fmt"
	"math"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// Optimizer is the contract shared by all reverse-communication solvers.
// An optimizer is bound to one vector space and one line search at
// construction, and is not safe for concurrent runs.
type Optimizer[T vec.Float] interface {
	// Start resets the run. x is the initial point; bound-constrained
	// optimizers project it into the feasible set before the first
	// evaluation. The returned task is always TaskComputeFG.
	Start(x *vec.Vector[T]) Task
	// Iterate advances one reverse-communication step given the cost f
	// and gradient g evaluated at x.
	Iterate(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task
	// Task returns the current task.
	Task() Task
	// Err returns the reason behind a TaskWarning or TaskError.
	Err() error
	// Iterations returns the number of accepted steps.
	Iterations() int
	// Evaluations returns the number of cost+gradient evaluations.
	Evaluations() int
	// GradNorm returns the gradient norm at the last accepted point
	// (the projected gradient norm for bounded optimizers).
	GradNorm() float64
}

// settings carries the convergence thresholds and budgets shared by the
// concrete optimizers. Zero budgets mean unlimited.
type settings struct {
	gatol   float64
	grtol   float64
	maxIter int
	maxEval int
	gtest   float64
}

const (
	defaultGradAbsTol = 0.0
	defaultGradRelTol = 1e-6
)

func newSettings() settings {
	return settings{gatol: defaultGradAbsTol, grtol: defaultGradRelTol}
}

// setTolerances validates and stores the convergence thresholds: stop
// when ||g|| <= max(gatol, grtol*||g0||).
func (s *settings) setTolerances(gatol, grtol float64) error {
	if gatol < 0 || math.IsNaN(gatol) {
		return fmt.Errorf("optim: invalid absolute gradient tolerance %g", gatol)
	}
	if grtol < 0 || grtol >= 1 || math.IsNaN(grtol) {
		return fmt.Errorf("optim: invalid relative gradient tolerance %g", grtol)
	}
	s.gatol, s.grtol = gatol, grtol
	return nil
}

// start freezes the threshold from the gradient norm at the starting
// point of the run.
func (s *settings) start(gnorm0 float64) {
	s.gtest = math.Max(s.gatol, s.grtol*gnorm0)
}

func (s *settings) converged(gnorm float64) bool {
	return gnorm <= s.gtest
}

func (s *settings) iterBudgetExceeded(iters int) bool {
	return s.maxIter > 0 && iters >= s.maxIter
}

func (s *settings) evalBudgetExceeded(evals int) bool {
	return s.maxEval > 0 && evals >= s.maxEval
}
