package optim

import (
	"fmt"

	"github.com/cwbudde/deconvolve/internal/vec"
)

const vmlmbStepMin = 1e-20

// VMLMB is the reverse-communication limited-memory quasi-Newton
// optimizer with separable bound constraints. Trial points are
// projected onto the feasible set before every evaluation, so the
// caller only ever sees feasible iterates, and convergence is measured
// on the projected gradient.
type VMLMB[T vec.Float] struct {
	settings
	space *vec.Space[T]
	proj  *Projector[T]
	ls    LineSearch
	mem   *memory[T]

	task  Task
	err   error
	phase int
	iters int
	evals int

	x0, g0, d, pg *vec.Vector[T]
	gnorm         float64
}

// NewVMLMB creates the optimizer keeping m curvature pairs; m <= 0
// selects DefaultMemory. A nil line search selects the default Armijo
// backtracking search, which needs no derivatives at trial points.
func NewVMLMB[T vec.Float](proj *Projector[T], m int, ls LineSearch) (*VMLMB[T], error) {
	if proj == nil {
		return nil, fmt.Errorf("optim: nil projector")
	}
	if m <= 0 {
		m = DefaultMemory
	}
	if ls == nil {
		ls = DefaultArmijo()
	}
	return &VMLMB[T]{
		settings: newSettings(),
		space:    proj.Space(),
		proj:     proj,
		ls:       ls,
		mem:      newMemory(proj.Space(), m),
	}, nil
}

// SetTolerances sets the convergence thresholds gatol and grtol,
// applied to the projected gradient norm.
func (o *VMLMB[T]) SetTolerances(gatol, grtol float64) error {
	return o.setTolerances(gatol, grtol)
}

// SetLimits sets the iteration and evaluation budgets; zero or negative
// means unlimited.
func (o *VMLMB[T]) SetLimits(maxIter, maxEval int) {
	o.maxIter, o.maxEval = maxIter, maxEval
}

func (o *VMLMB[T]) Task() Task        { return o.task }
func (o *VMLMB[T]) Err() error        { return o.err }
func (o *VMLMB[T]) Iterations() int   { return o.iters }
func (o *VMLMB[T]) Evaluations() int  { return o.evals }
func (o *VMLMB[T]) GradNorm() float64 { return o.gnorm }
func (o *VMLMB[T]) Step() float64     { return o.ls.Step() }

// Start resets the run and projects the initial point onto the feasible
// set, so the first evaluation already happens at a feasible x.
func (o *VMLMB[T]) Start(x *vec.Vector[T]) Task {
	if o.x0 == nil {
		o.x0 = o.space.Create()
		o.g0 = o.space.Create()
		o.d = o.space.Create()
		o.pg = o.space.Create()
	}
	if err := o.proj.Project(x); err != nil {
		return o.fail(err)
	}
	o.mem.reset()
	o.iters, o.evals = 0, 0
	o.err = nil
	o.phase = phaseFirst
	o.task = TaskComputeFG
	return o.task
}

func (o *VMLMB[T]) Iterate(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
	if o.task != TaskComputeFG && o.task != TaskNewX {
		return o.fail(ErrNotStarted)
	}
	if !o.space.Owns(x) || !o.space.Owns(g) {
		return o.fail(vec.ErrSpaceMismatch)
	}
	switch o.phase {
	case phaseFirst:
		o.evals++
		gnorm, err := o.stationarity(x, g)
		if err != nil {
			return o.fail(err)
		}
		o.settings.start(gnorm)
		if o.converged(gnorm) {
			o.task = TaskFinalX
			return o.task
		}
		return o.direction(x, f, g)

	case phaseSearch:
		o.evals++
		_, st := o.ls.Iterate(f, 0)
		switch st {
		case SearchInProgress:
			if o.evalBudgetExceeded(o.evals) {
				return o.warn(ErrMaxEvaluations)
			}
			if err := o.trial(x); err != nil {
				return o.fail(err)
			}
			o.task = TaskComputeFG
			return o.task
		case SearchConverged:
			return o.accept(x, g)
		case SearchWarning:
			return o.warn(o.ls.Err())
		default:
			return o.fail(o.ls.Err())
		}

	case phaseAccepted:
		return o.direction(x, f, g)
	}
	return o.fail(ErrNotStarted)
}

// stationarity computes and records the projected gradient norm at x.
func (o *VMLMB[T]) stationarity(x, g *vec.Vector[T]) (float64, error) {
	if err := o.proj.ProjectedGradient(o.pg, x, g); err != nil {
		return 0, err
	}
	gnorm, err := o.space.Norm2(o.pg)
	if err != nil {
		return 0, err
	}
	o.gnorm = gnorm
	return gnorm, nil
}

// trial moves x to the projection of x0 + step*d.
func (o *VMLMB[T]) trial(x *vec.Vector[T]) error {
	if err := o.space.Combine(x, 1, o.x0, o.ls.Step(), o.d); err != nil {
		return err
	}
	return o.proj.Project(x)
}

func (o *VMLMB[T]) accept(x, g *vec.Vector[T]) Task {
	// The stored step s = x - x0 is taken after projection so the
	// curvature pairs describe the path actually walked.
	if err := o.mem.push(x, o.x0, g, o.g0); err != nil {
		return o.fail(err)
	}
	o.iters++
	gnorm, err := o.stationarity(x, g)
	if err != nil {
		return o.fail(err)
	}
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

// direction builds the next search direction over the free variables
// and starts a backtracking search along it.
func (o *VMLMB[T]) direction(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
	if err := o.mem.apply(o.d, o.pg); err != nil {
		return o.fail(err)
	}
	if err := o.proj.FreeDirection(o.d, x); err != nil {
		return o.fail(err)
	}
	dg, err := o.space.Dot(o.d, g)
	if err != nil {
		return o.fail(err)
	}
	scaled := o.mem.saved > 0
	if dg >= 0 {
		o.mem.reset()
		if err := o.space.Combine(o.d, -1, o.pg, 0, o.pg); err != nil {
			return o.fail(err)
		}
		dg = -o.gnorm * o.gnorm
		scaled = false
	}
	step := 1.0
	if !scaled && o.gnorm > 0 {
		step = 1 / o.gnorm
	}
	if err := o.space.Copy(o.x0, x); err != nil {
		return o.fail(err)
	}
	if err := o.space.Copy(o.g0, g); err != nil {
		return o.fail(err)
	}
	if _, err := o.ls.Start(f, dg, step, vmlmbStepMin, cgStepMax); err != nil {
		return o.fail(err)
	}
	if o.evalBudgetExceeded(o.evals) {
		return o.warn(ErrMaxEvaluations)
	}
	if err := o.trial(x); err != nil {
		return o.fail(err)
	}
	o.phase = phaseSearch
	o.task = TaskComputeFG
	return o.task
}

func (o *VMLMB[T]) warn(reason error) Task {
	o.err = reason
	o.task = TaskWarning
	return o.task
}

func (o *VMLMB[T]) fail(reason error) Task {
	o.err = reason
	o.task = TaskError
	return o.task
}
