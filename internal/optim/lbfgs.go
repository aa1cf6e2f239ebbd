package optim

import (
	"fmt"

	"github.com/cwbudde/deconvolve/internal/vec"
)

// DefaultMemory is the number of curvature pairs kept by quasi-Newton
// optimizers when the caller does not choose one.
const DefaultMemory = 5

// pair is one stored correction (s, y) with sy = <s,y> precomputed.
type pair[T vec.Float] struct {
	s, y *vec.Vector[T]
	sy   float64
}

// memory is a circular buffer of the most recent curvature pairs shared
// by the quasi-Newton optimizers.
type memory[T vec.Float] struct {
	space *vec.Space[T]
	pairs []pair[T]
	head  int // index of the slot the next pair goes into
	saved int
	rho   []float64 // scratch for the two-loop recursion
}

func newMemory[T vec.Float](space *vec.Space[T], m int) *memory[T] {
	mem := &memory[T]{
		space: space,
		pairs: make([]pair[T], m),
		rho:   make([]float64, m),
	}
	for i := range mem.pairs {
		mem.pairs[i].s = space.Create()
		mem.pairs[i].y = space.Create()
	}
	return mem
}

func (m *memory[T]) reset() {
	m.head, m.saved = 0, 0
}

// push stores the correction s = x1-x0, y = g1-g0. Pairs with
// non-positive curvature <s,y> are discarded to keep the implicit
// inverse Hessian positive definite.
func (m *memory[T]) push(x1, x0, g1, g0 *vec.Vector[T]) error {
	p := &m.pairs[m.head]
	if err := m.space.Combine(p.s, 1, x1, -1, x0); err != nil {
		return err
	}
	if err := m.space.Combine(p.y, 1, g1, -1, g0); err != nil {
		return err
	}
	sy, err := m.space.Dot(p.s, p.y)
	if err != nil {
		return err
	}
	if sy <= 0 {
		return nil
	}
	p.sy = sy
	m.head = (m.head + 1) % len(m.pairs)
	if m.saved < len(m.pairs) {
		m.saved++
	}
	return nil
}

// apply computes d = -H*g using the two-loop recursion, where H is the
// limited-memory inverse Hessian approximation scaled by
// gamma = <s,y>/<y,y> of the most recent pair. With no stored pairs the
// result is plain steepest descent.
func (m *memory[T]) apply(d, g *vec.Vector[T]) error {
	if err := m.space.Combine(d, -1, g, 0, g); err != nil {
		return err
	}
	if m.saved == 0 {
		return nil
	}
	// Newest to oldest.
	for k := 0; k < m.saved; k++ {
		i := (m.head - 1 - k + len(m.pairs)) % len(m.pairs)
		p := &m.pairs[i]
		sd, err := m.space.Dot(p.s, d)
		if err != nil {
			return err
		}
		m.rho[i] = sd / p.sy
		if err := m.space.AddScaled(d, -m.rho[i], p.y); err != nil {
			return err
		}
	}
	newest := &m.pairs[(m.head-1+len(m.pairs))%len(m.pairs)]
	yy, err := m.space.Dot(newest.y, newest.y)
	if err != nil {
		return err
	}
	if yy > 0 {
		if err := m.space.Scale(d, newest.sy/yy); err != nil {
			return err
		}
	}
	// Oldest to newest.
	for k := m.saved - 1; k >= 0; k-- {
		i := (m.head - 1 - k + len(m.pairs)) % len(m.pairs)
		p := &m.pairs[i]
		yd, err := m.space.Dot(p.y, d)
		if err != nil {
			return err
		}
		if err := m.space.AddScaled(d, m.rho[i]-yd/p.sy, p.s); err != nil {
			return err
		}
	}
	return nil
}

// LBFGS is the reverse-communication limited-memory BFGS optimizer for
// smooth unconstrained problems.
type LBFGS[T vec.Float] struct {
	settings
	space *vec.Space[T]
	ls    LineSearch
	mem   *memory[T]

	task  Task
	err   error
	phase int
	iters int
	evals int

	x0, g0, d *vec.Vector[T]
	gnorm     float64
}

// NewLBFGS creates the optimizer keeping m curvature pairs; m <= 0
// selects DefaultMemory. A nil line search selects the default
// More-Thuente search.
func NewLBFGS[T vec.Float](space *vec.Space[T], m int, ls LineSearch) (*LBFGS[T], error) {
	if space == nil {
		return nil, fmt.Errorf("optim: nil space")
	}
	if m <= 0 {
		m = DefaultMemory
	}
	if ls == nil {
		ls = DefaultMoreThuente()
	}
	return &LBFGS[T]{
		settings: newSettings(),
		space:    space,
		ls:       ls,
		mem:      newMemory(space, m),
	}, nil
}

// SetTolerances sets the convergence thresholds gatol and grtol.
func (o *LBFGS[T]) SetTolerances(gatol, grtol float64) error {
	return o.setTolerances(gatol, grtol)
}

// SetLimits sets the iteration and evaluation budgets; zero or negative
// means unlimited.
func (o *LBFGS[T]) SetLimits(maxIter, maxEval int) {
	o.maxIter, o.maxEval = maxIter, maxEval
}

func (o *LBFGS[T]) Task() Task        { return o.task }
func (o *LBFGS[T]) Err() error        { return o.err }
func (o *LBFGS[T]) Iterations() int   { return o.iters }
func (o *LBFGS[T]) Evaluations() int  { return o.evals }
func (o *LBFGS[T]) GradNorm() float64 { return o.gnorm }
func (o *LBFGS[T]) Step() float64     { return o.ls.Step() }

// Start resets the run. The first task is always TaskComputeFG.
func (o *LBFGS[T]) Start(x *vec.Vector[T]) Task {
	if o.x0 == nil {
		o.x0 = o.space.Create()
		o.g0 = o.space.Create()
		o.d = o.space.Create()
	}
	o.mem.reset()
	o.iters, o.evals = 0, 0
	o.err = nil
	o.phase = phaseFirst
	o.task = TaskComputeFG
	return o.task
}

func (o *LBFGS[T]) Iterate(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
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
		return o.direction(x, f, g)

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

func (o *LBFGS[T]) accept(x, g *vec.Vector[T]) Task {
	if err := o.mem.push(x, o.x0, g, o.g0); err != nil {
		return o.fail(err)
	}
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

// direction builds the next quasi-Newton direction and starts a line
// search along it, falling back to steepest descent if the two-loop
// output is not a descent direction.
func (o *LBFGS[T]) direction(x *vec.Vector[T], f float64, g *vec.Vector[T]) Task {
	if err := o.mem.apply(o.d, g); err != nil {
		return o.fail(err)
	}
	dg, err := o.space.Dot(o.d, g)
	if err != nil {
		return o.fail(err)
	}
	scaled := o.mem.saved > 0
	if dg >= 0 {
		o.mem.reset()
		if err := o.space.Combine(o.d, -1, g, 0, g); err != nil {
			return o.fail(err)
		}
		dg = -o.gnorm * o.gnorm
		scaled = false
	}
	// A scaled quasi-Newton direction takes a unit first step; an
	// unscaled gradient step is normalized instead.
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
	if _, err := o.ls.Start(f, dg, step, 0, cgStepMax); err != nil {
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

func (o *LBFGS[T]) warn(reason error) Task {
	o.err = reason
	o.task = TaskWarning
	return o.task
}

func (o *LBFGS[T]) fail(reason error) Task {
	o.err = reason
	o.task = TaskError
	return o.task
}
