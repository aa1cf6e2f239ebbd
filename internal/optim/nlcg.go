package optim

import (
	"fmt"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// CGMethod selects the conjugacy update formula of the nonlinear
// conjugate gradient.
type CGMethod int

const (
	// FletcherReeves uses beta = <g1,g1>/<g0,g0>.
	FletcherReeves CGMethod = 1 + iota
	// PolakRibiere uses beta = max(0, <g1,g1-g0>/<g0,g0>) (the
	// nonnegative "plus" variant, which guarantees automatic restart).
	PolakRibiere
	// HestenesStiefel uses beta = <g1,y>/<d,y> with y = g1-g0.
	HestenesStiefel
	// DaiYuan uses beta = <g1,g1>/<d,y>.
	DaiYuan
)

func (m CGMethod) String() string {
	switch m {
	case FletcherReeves:
		return "fletcher-reeves"
	case PolakRibiere:
		return "polak-ribiere+"
	case HestenesStiefel:
		return "hestenes-stiefel"
	case DaiYuan:
		return "dai-yuan"
	}
	return "unknown"
}

// Run phases of a reverse-communication solver.
const (
	phaseIdle = iota
	phaseFirst
	phaseSearch
	phaseAccepted
)

const cgStepMax = 1e20

// NLCG is the reverse-communication nonlinear conjugate-gradient
// optimizer. Whenever the conjugacy coefficient would yield a
// non-descent direction the direction resets to steepest descent.
type NLCG[T vec.Float] struct {
	settings
	space  *vec.Space[T]
	ls     LineSearch
	method CGMethod

	task     Task
	err      error
	phase    int
	iters    int
	evals    int
	restarts int

	x0, g0, d *vec.Vector[T]
	gg0       float64
	gnorm     float64
	accepted  float64 // last accepted step, seeds the next search
}

// NewNLCG creates the optimizer on the given space. A nil line search
// selects the default More-Thuente search.
func NewNLCG[T vec.Float](space *vec.Space[T], method CGMethod, ls LineSearch) (*NLCG[T], error) {
	switch method {
	case FletcherReeves, PolakRibiere, HestenesStiefel, DaiYuan:
	default:
		return nil, fmt.Errorf("optim: unknown CG method %d", method)
	}
	if ls == nil {
		ls = DefaultMoreThuente()
	}
	return &NLCG[T]{
		settings: newSettings(),
		space:    space,
		ls:       ls,
		method:   method,
	}, nil
}

// SetTolerances sets the convergence thresholds gatol and grtol.
func (o *NLCG[T]) SetTolerances(gatol, grtol float64) error {
	return o.setTolerances(gatol, grtol)
}

// SetLimits sets the iteration and evaluation budgets; zero or negative
// means unlimited.
func (o *NLCG[T]) SetLimits(maxIter, maxEval int) {
	o.maxIter, o.maxEval = maxIter, maxEval
}

func (o *NLCG[T]) Task() Task        { return o.task }
func (o *NLCG[T]) Err() error        { return o.err }
func (o *NLCG[T]) Iterations() int   { return o.iters }
func (o *NLCG[T]) Evaluations() int  { return o.evals }
func (o *NLCG[T]) Restarts() int     { return o.restarts }
func (o *NLCG[T]) GradNorm() float64 { return o.gnorm }
func (o *NLCG[T]) Step() float64     { return o.ls.Step() }

// Start resets the run. The first task is always TaskComputeFG: the
// caller must evaluate cost and gradient at x and call Iterate.
func (o *NLCG[T]) Start(x *vec.Vector[T]) Task {
	if o.x0 == nil {
		o.x0 = o.space.Create()
		o.g0 = o.space.Create()
		o.d = o.space.Create()
	}
	o.iters, o.evals, o.restarts = 0, 0, 0
	o.err = nil
	o.phase = phaseFirst
	o.task = TaskComputeFG
	return o.task
}

func (o *NLCG[T]) Iterate(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
	if o.task != TaskComputeFG && o.task != TaskNewX {
		return o.fail(ErrNotStarted)
	}
	if !o.space.Owns(x) || !o.space.Owns(g) {
		return o.fail(vec.ErrSpaceMismatch)
	}
	switch o.phase {
	case phaseFirst:
		o.evals++
		gnorm, err := o.space.Norm2(g)
		if err != nil {
			return o.fail(err)
		}
		o.gnorm = gnorm
		o.settings.start(gnorm)
		if o.converged(gnorm) {
			o.task = TaskFinalX
			return o.task
		}
		gg, err := o.space.Dot(g, g)
		if err != nil {
			return o.fail(err)
		}
		o.gg0 = gg
		// First direction: steepest descent.
		if err := o.space.Combine(o.d, -1, g, 0, g); err != nil {
			return o.fail(err)
		}
		return o.beginSearch(x, f, g, -gg, 1/gnorm)

	case phaseSearch:
		o.evals++
		df, err := o.space.Dot(g, o.d)
		if err != nil {
			return o.fail(err)
		}
		step, st := o.ls.Iterate(f, df)
		switch st {
		case SearchInProgress:
			if o.evalBudgetExceeded(o.evals) {
				return o.warn(ErrMaxEvaluations)
			}
			if err := o.space.Combine(x, 1, o.x0, step, o.d); err != nil {
				return o.fail(err)
			}
			o.task = TaskComputeFG
			return o.task
		case SearchConverged:
			o.accepted = step
			return o.accept(g)
		case SearchWarning:
			return o.warn(o.ls.Err())
		default:
			return o.fail(o.ls.Err())
		}

	case phaseAccepted:
		// The caller saw TaskNewX and resumed: compute the next
		// conjugate direction from the same (x, f, g).
		return o.nextDirection(x, f, g)
	}
	return o.fail(ErrNotStarted)
}

// accept finishes one line search: count the iteration and test
// convergence and budgets at the accepted point.
func (o *NLCG[T]) accept(g *vec.Vector[T]) Task {
	o.iters++
	gnorm, err := o.space.Norm2(g)
	if err != nil {
		return o.fail(err)
	}
	o.gnorm = gnorm
	switch {
	case o.converged(gnorm):
		o.task = TaskFinalX
	case o.iterBudgetExceeded(o.iters):
		return o.warn(ErrMaxIterations)
	case o.evalBudgetExceeded(o.evals):
		return o.warn(ErrMaxEvaluations)
	default:
		o.task = TaskNewX
		o.phase = phaseAccepted
	}
	return o.task
}

// nextDirection applies the conjugacy update, restarting with steepest
// descent whenever the resulting direction fails the descent test.
func (o *NLCG[T]) nextDirection(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
	gg, err := o.space.Dot(g, g)
	if err != nil {
		return o.fail(err)
	}
	gPrev, err := o.space.Dot(g, o.g0)
	if err != nil {
		return o.fail(err)
	}
	var beta float64
	switch o.method {
	case FletcherReeves:
		beta = gg / o.gg0
	case PolakRibiere:
		beta = (gg - gPrev) / o.gg0
		if beta < 0 {
			beta = 0
		}
	case HestenesStiefel, DaiYuan:
		dg, err := o.space.Dot(o.d, g)
		if err != nil {
			return o.fail(err)
		}
		dg0, err := o.space.Dot(o.d, o.g0)
		if err != nil {
			return o.fail(err)
		}
		dy := dg - dg0
		if dy == 0 {
			beta = 0
		} else if o.method == HestenesStiefel {
			beta = (gg - gPrev) / dy
		} else {
			beta = gg / dy
		}
	}

	restart := beta <= 0
	if !restart {
		if err := o.space.Combine(o.d, beta, o.d, -1, g); err != nil {
			return o.fail(err)
		}
		dg, err := o.space.Dot(o.d, g)
		if err != nil {
			return o.fail(err)
		}
		if dg >= 0 {
			restart = true
		} else {
			o.gg0 = gg
			return o.beginSearch(x, f, g, dg, o.seedStep())
		}
	}
	if restart {
		o.restarts++
		if err := o.space.Combine(o.d, -1, g, 0, g); err != nil {
			return o.fail(err)
		}
		o.gg0 = gg
		return o.beginSearch(x, f, g, -gg, 1/o.gnorm)
	}
	return o.task
}

// seedStep proposes the initial step of the next line search from the
// last accepted one.
func (o *NLCG[T]) seedStep() float64 {
	if o.accepted > 0 {
		return o.accepted
	}
	return 1
}

// beginSearch snapshots the origin of the line search and proposes the
// first trial point.
func (o *NLCG[T]) beginSearch(x *vec.Vector[T], f float64, g *vec.Vector[T], dg0, step float64) Task {
	if err := o.space.Copy(o.x0, x); err != nil {
		return o.fail(err)
	}
	if err := o.space.Copy(o.g0, g); err != nil {
		return o.fail(err)
	}
	if _, err := o.ls.Start(f, dg0, step, 0, cgStepMax); err != nil {
		return o.fail(err)
	}
	if o.evalBudgetExceeded(o.evals) {
		return o.warn(ErrMaxEvaluations)
	}
	if err := o.space.Combine(x, 1, o.x0, o.ls.Step(), o.d); err != nil {
		return o.fail(err)
	}
	o.phase = phaseSearch
	o.task = TaskComputeFG
	return o.task
}

func (o *NLCG[T]) warn(reason error) Task {
	o.err = reason
	o.task = TaskWarning
	return o.task
}

func (o *NLCG[T]) fail(reason error) Task {
	o.err = reason
	o.task = TaskError
	return o.task
}
