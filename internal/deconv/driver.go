package deconv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/deconvolve/internal/cost"
	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/optim"
	"github.com/cwbudde/deconvolve/internal/vec"
)

// ErrNotConfigured is returned by Start when data, PSF, or the initial
// solution is missing.
var ErrNotConfigured = errors.New("deconv: driver not fully configured")

// Deconvolver drives a regularized deconvolution run. It binds the
// fused weighted-convolution data term, an edge-preserving regularizer,
// optional bound constraints, and one of the reverse-communication
// optimizers, then exposes the same task protocol one level up.
//
// Setters may be called again between runs; any change to the problem
// marks the internal state pending and the next Start rebuilds it.
// Within the variable array the data region sits centered, so the
// padding absorbs wraparound from the circular convolution.
type Deconvolver[T vec.Float] struct {
	dshape  []int
	data    []float64
	weights []float64
	psf     []float64
	kshape  []int
	padding int

	initial []T

	level    float64 // regularization weight
	eps      float64 // edge threshold of the regularizer
	lower    float64
	upper    float64
	gatol    float64
	grtol    float64
	maxIter  int
	maxEval  int
	mem      int
	method   optim.CGMethod
	saveBest bool

	pending bool

	space     *vec.Space[T]
	x, g      *vec.Vector[T]
	fidelity  *cost.WeightedConvolution[T]
	objective *cost.Composite[T]
	optimizer optim.Optimizer[T]

	task     optim.Task
	err      error
	f        float64
	best     *vec.Vector[T]
	bestCost float64
	haveBest bool
	running  bool
	elapsed  time.Duration
}

// NewDeconvolver creates a driver with default settings: no padding, no
// regularization, unbounded variables, relative gradient tolerance 1e-6
// and the Polak-Ribiere conjugate gradient.
func NewDeconvolver[T vec.Float]() *Deconvolver[T] {
	return &Deconvolver[T]{
		eps:      1e-2,
		lower:    math.Inf(-1),
		upper:    math.Inf(1),
		grtol:    1e-6,
		method:   optim.PolakRibiere,
		saveBest: true,
		pending:  true,
	}
}

// SetData assigns the observed image as a flat buffer with its shape.
// Non-finite samples are allowed; they get zero weight during Start.
func (d *Deconvolver[T]) SetData(data []float64, shape ...int) error {
	if err := checkShaped(data, shape); err != nil {
		return err
	}
	d.data, d.dshape = data, append([]int(nil), shape...)
	d.pending = true
	return nil
}

// SetPSF assigns the point-spread function, centered in its own shape.
// It is embedded into the variable array in wrap-around order by Start.
func (d *Deconvolver[T]) SetPSF(psf []float64, shape ...int) error {
	if err := checkShaped(psf, shape); err != nil {
		return err
	}
	d.psf, d.kshape = psf, append([]int(nil), shape...)
	d.pending = true
	return nil
}

// SetWeights assigns explicit per-sample weights matching the data
// buffer. When absent, default weights are derived from the data.
func (d *Deconvolver[T]) SetWeights(weights []float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("deconv: empty weights")
	}
	d.weights = weights
	d.pending = true
	return nil
}

// SetInitialSolution wraps the caller's buffer as the evolving solution
// without copying; the optimizer mutates it in place and the caller's
// view tracks the iterates. Its length must match the padded variable
// shape, checked by Start.
func (d *Deconvolver[T]) SetInitialSolution(x []T) error {
	if len(x) == 0 {
		return fmt.Errorf("deconv: empty initial solution")
	}
	d.initial = x
	d.pending = true
	return nil
}

// SetPadding sets the number of samples added to every axis of the
// variable array beyond the data shape.
func (d *Deconvolver[T]) SetPadding(pad int) error {
	if pad < 0 {
		return fmt.Errorf("deconv: negative padding %d", pad)
	}
	d.padding = pad
	d.pending = true
	return nil
}

// SetRegularizationLevel sets the weight of the regularization term.
// Zero disables regularization entirely.
func (d *Deconvolver[T]) SetRegularizationLevel(level float64) error {
	if level < 0 || math.IsInf(level, 0) || math.IsNaN(level) {
		return fmt.Errorf("deconv: regularization level must be finite and nonnegative, got %g", level)
	}
	d.level = level
	d.pending = true
	return nil
}

// SetEdgeThreshold sets the threshold of the edge-preserving
// regularizer; it must be strictly positive.
func (d *Deconvolver[T]) SetEdgeThreshold(eps float64) error {
	if !(eps > 0) || math.IsInf(eps, 1) {
		return fmt.Errorf("deconv: edge threshold must be positive and finite, got %g", eps)
	}
	d.eps = eps
	d.pending = true
	return nil
}

// SetLowerBound sets a per-element lower bound; -Inf removes it.
func (d *Deconvolver[T]) SetLowerBound(lower float64) error {
	if math.IsNaN(lower) {
		return fmt.Errorf("deconv: NaN lower bound")
	}
	d.lower = lower
	d.pending = true
	return nil
}

// SetUpperBound sets a per-element upper bound; +Inf removes it.
func (d *Deconvolver[T]) SetUpperBound(upper float64) error {
	if math.IsNaN(upper) {
		return fmt.Errorf("deconv: NaN upper bound")
	}
	d.upper = upper
	d.pending = true
	return nil
}

// SetAbsoluteTolerance sets the absolute gradient-norm threshold gatol.
func (d *Deconvolver[T]) SetAbsoluteTolerance(gatol float64) error {
	if gatol < 0 || math.IsNaN(gatol) {
		return fmt.Errorf("deconv: absolute tolerance must be nonnegative, got %g", gatol)
	}
	d.gatol = gatol
	d.pending = true
	return nil
}

// SetRelativeTolerance sets the relative gradient-norm threshold grtol.
func (d *Deconvolver[T]) SetRelativeTolerance(grtol float64) error {
	if grtol < 0 || grtol >= 1 || math.IsNaN(grtol) {
		return fmt.Errorf("deconv: relative tolerance must be in [0, 1), got %g", grtol)
	}
	d.grtol = grtol
	d.pending = true
	return nil
}

// SetMaximumIterations caps accepted iterations; zero or negative means
// unlimited.
func (d *Deconvolver[T]) SetMaximumIterations(n int) {
	d.maxIter = n
	d.pending = true
}

// SetMaximumEvaluations caps cost evaluations; zero or negative means
// unlimited.
func (d *Deconvolver[T]) SetMaximumEvaluations(n int) {
	d.maxEval = n
	d.pending = true
}

// SetMemory selects the optimizer family: zero picks the nonlinear
// conjugate gradient, a positive value picks limited-memory BFGS with
// that many curvature pairs. With bounds set the projected variant is
// used regardless, with DefaultMemory pairs when zero.
func (d *Deconvolver[T]) SetMemory(m int) error {
	if m < 0 {
		return fmt.Errorf("deconv: negative memory %d", m)
	}
	d.mem = m
	d.pending = true
	return nil
}

// SetMethod selects the conjugate-gradient update formula used when
// memory is zero and no bounds are set.
func (d *Deconvolver[T]) SetMethod(method optim.CGMethod) {
	d.method = method
	d.pending = true
}

// SetSaveBest toggles tracking a defensive copy of the lowest-cost
// solution seen so far.
func (d *Deconvolver[T]) SetSaveBest(save bool) {
	d.saveBest = save
}

func (d *Deconvolver[T]) bounded() bool {
	return !math.IsInf(d.lower, -1) || !math.IsInf(d.upper, 1)
}

// Shape returns the padded variable shape, valid after Start.
func (d *Deconvolver[T]) Shape() []int {
	if d.space == nil {
		return nil
	}
	return d.space.Shape()
}

// DataOffset returns the position of the data region inside the
// variable array, valid after Start.
func (d *Deconvolver[T]) DataOffset() []int {
	if d.space == nil {
		return nil
	}
	shape := d.space.Shape()
	off := make([]int, len(shape))
	for a := range off {
		off[a] = (shape[a] - d.dshape[a]) / 2
	}
	return off
}

// Start validates the configuration, rebuilds the problem if anything
// changed since the last run, and resets the optimizer. The returned
// task is TaskComputeFG on success.
func (d *Deconvolver[T]) Start() (optim.Task, error) {
	if d.pending {
		if err := d.build(); err != nil {
			d.err = err
			d.task = optim.TaskError
			return d.task, err
		}
		d.pending = false
	}
	d.f = 0
	d.haveBest = false
	d.bestCost = math.Inf(1)
	d.elapsed = 0
	d.running = true
	d.fidelity.ResetCounters()
	d.task = d.optimizer.Start(d.x)
	if d.task == optim.TaskError {
		d.err = d.optimizer.Err()
		return d.task, d.err
	}
	d.err = nil
	return d.task, nil
}

func (d *Deconvolver[T]) build() error {
	if d.data == nil || d.psf == nil || d.initial == nil {
		return ErrNotConfigured
	}
	vshape := make([]int, len(d.dshape))
	for a, n := range d.dshape {
		vshape[a] = n + d.padding
	}
	space, err := vec.NewSpace[T](vshape...)
	if err != nil {
		return err
	}
	x, err := space.Wrap(d.initial)
	if err != nil {
		return fmt.Errorf("deconv: initial solution does not match variable shape %v: %w", vshape, err)
	}

	// Data validation shares the weighted-data semantics: derive or
	// check weights, zero masked non-finite samples in place.
	dspace, err := vec.NewSpace[float64](d.dshape...)
	if err != nil {
		return err
	}
	dv, err := dspace.Wrap(d.data)
	if err != nil {
		return fmt.Errorf("deconv: data does not match shape %v: %w", d.dshape, err)
	}
	wd, err := NewWeightedData[float64](dspace)
	if err != nil {
		return err
	}
	if err := wd.SetData(dv); err != nil {
		return err
	}
	if d.weights != nil {
		wv, err := dspace.Wrap(d.weights)
		if err != nil {
			return fmt.Errorf("deconv: weights do not match shape %v: %w", d.dshape, err)
		}
		if err := wd.SetWeights(wv); err != nil {
			return err
		}
	}
	if err := wd.Check(); err != nil {
		return err
	}

	fft, err := op.NewFFT(vshape...)
	if err != nil {
		return err
	}
	kbuf := make([]float64, space.Size())
	if err := op.WrapKernel(kbuf, vshape, d.psf, d.kshape); err != nil {
		return err
	}
	psf := space.Create()
	fromFloat64(psf.Data(), kbuf)
	offset := make([]int, len(vshape))
	for a := range offset {
		offset[a] = (vshape[a] - d.dshape[a]) / 2
	}
	fidelity, err := cost.NewWeightedConvolution(space, fft, psf, wd.Data().Data(), wd.Weights().Data(), d.dshape, offset)
	if err != nil {
		return err
	}

	terms := []cost.Term[T]{{Weight: 1, Fn: fidelity}}
	if d.level > 0 {
		reg, err := d.regularizer(space)
		if err != nil {
			return err
		}
		terms = append(terms, cost.Term[T]{Weight: d.level, Fn: reg})
	}
	objective, err := cost.NewComposite(terms...)
	if err != nil {
		return err
	}

	optimizer, err := d.buildOptimizer(space)
	if err != nil {
		return err
	}

	d.space = space
	d.x = x
	d.g = space.Create()
	d.fidelity = fidelity
	d.objective = objective
	d.optimizer = optimizer
	if d.saveBest {
		d.best = space.Create()
	} else {
		d.best = nil
	}
	return nil
}

// regularizer picks the edge-preserving total variation on images and
// falls back to a quadratic penalty for other ranks.
func (d *Deconvolver[T]) regularizer(space *vec.Space[T]) (cost.Differentiable[T], error) {
	if space.Rank() == 2 {
		return cost.NewHyperbolicTV(space, d.eps)
	}
	return cost.NewTikhonov(space), nil
}

func (d *Deconvolver[T]) buildOptimizer(space *vec.Space[T]) (optim.Optimizer[T], error) {
	var (
		o   optim.Optimizer[T]
		err error
	)
	switch {
	case d.bounded():
		var proj *optim.Projector[T]
		proj, err = optim.NewProjector(space, d.lower, d.upper)
		if err != nil {
			return nil, err
		}
		o, err = optim.NewVMLMB(proj, d.mem, nil)
	case d.mem > 0:
		o, err = optim.NewLBFGS(space, d.mem, nil)
	default:
		o, err = optim.NewNLCG(space, d.method, nil)
	}
	if err != nil {
		return nil, err
	}
	type tunable interface {
		SetTolerances(gatol, grtol float64) error
		SetLimits(maxIter, maxEval int)
	}
	t := o.(tunable)
	if err := t.SetTolerances(d.gatol, d.grtol); err != nil {
		return nil, err
	}
	t.SetLimits(d.maxIter, d.maxEval)
	return o, nil
}

// Iterate performs one reverse-communication round-trip: evaluate the
// objective at the current point when asked, feed the result to the
// optimizer, and track the best solution on every accepted step.
func (d *Deconvolver[T]) Iterate() optim.Task {
	if d.optimizer == nil {
		d.err = optim.ErrNotStarted
		d.task = optim.TaskError
		return d.task
	}
	if d.task.Terminal() {
		return d.task
	}
	start := time.Now()
	defer func() { d.elapsed += time.Since(start) }()

	if d.task == optim.TaskNewX {
		// Resume the direction update with the already-known values.
		d.task = d.optimizer.Iterate(d.x, d.f, d.g)
		if d.task != optim.TaskComputeFG {
			d.finish()
			return d.task
		}
	}
	f, err := d.objective.EvaluateGradient(1, d.x, d.g, true)
	if err != nil {
		d.err = err
		d.task = optim.TaskError
		return d.task
	}
	d.f = f
	d.task = d.optimizer.Iterate(d.x, f, d.g)
	if d.task == optim.TaskNewX || d.task.Terminal() {
		d.trackBest()
		d.finish()
	}
	return d.task
}

// Run drives Iterate to a terminal task, honoring context cancellation
// and Stop between round-trips. It returns the last task reached.
func (d *Deconvolver[T]) Run(ctx context.Context) (optim.Task, error) {
	for !d.task.Terminal() {
		if err := ctx.Err(); err != nil {
			d.running = false
			return d.task, err
		}
		if !d.running {
			return d.task, nil
		}
		d.Iterate()
	}
	d.running = false
	return d.task, d.err
}

// Stop requests a cooperative stop: Run unwinds after the current
// round-trip completes. The best-so-far solution stays usable.
func (d *Deconvolver[T]) Stop() { d.running = false }

func (d *Deconvolver[T]) finish() {
	if d.task.Terminal() {
		d.running = false
	}
}

func (d *Deconvolver[T]) trackBest() {
	if d.f >= d.bestCost {
		return
	}
	d.bestCost = d.f
	if d.best != nil {
		if err := d.space.Copy(d.best, d.x); err == nil {
			d.haveBest = true
		}
	}
}

// Solution returns the evolving solution vector. It aliases the buffer
// passed to SetInitialSolution.
func (d *Deconvolver[T]) Solution() *vec.Vector[T] { return d.x }

// BestSolution returns the lowest-cost solution seen so far, or the
// current one when best tracking is disabled or nothing was accepted
// yet.
func (d *Deconvolver[T]) BestSolution() *vec.Vector[T] {
	if d.haveBest {
		return d.best
	}
	return d.x
}

// BestCost returns the cost of BestSolution.
func (d *Deconvolver[T]) BestCost() float64 {
	if d.haveBest || !math.IsInf(d.bestCost, 1) {
		return d.bestCost
	}
	return d.f
}

// Gradient returns the gradient at the last evaluated point.
func (d *Deconvolver[T]) Gradient() *vec.Vector[T] { return d.g }

func (d *Deconvolver[T]) Task() optim.Task { return d.task }
func (d *Deconvolver[T]) Err() error       { return d.err }
func (d *Deconvolver[T]) Cost() float64    { return d.f }

func (d *Deconvolver[T]) GradNorm() float64 {
	if d.optimizer == nil {
		return 0
	}
	return d.optimizer.GradNorm()
}

func (d *Deconvolver[T]) Iterations() int {
	if d.optimizer == nil {
		return 0
	}
	return d.optimizer.Iterations()
}

func (d *Deconvolver[T]) Evaluations() int {
	if d.optimizer == nil {
		return 0
	}
	return d.optimizer.Evaluations()
}

// ElapsedTime returns the wall time spent inside Iterate since Start.
func (d *Deconvolver[T]) ElapsedTime() time.Duration { return d.elapsed }

// FidelityTime returns the wall time spent in the fused data-term
// evaluations, the hot path of the run.
func (d *Deconvolver[T]) FidelityTime() time.Duration {
	if d.fidelity == nil {
		return 0
	}
	return d.fidelity.EvalTime()
}

func checkShaped(buf []float64, shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("deconv: empty shape")
	}
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return fmt.Errorf("deconv: invalid shape %v", shape)
		}
		n *= s
	}
	if len(buf) != n {
		return fmt.Errorf("deconv: buffer length %d does not match shape %v", len(buf), shape)
	}
	return nil
}

func fromFloat64[T vec.Float](dst []T, src []float64) {
	if d, ok := any(dst).([]float64); ok {
		copy(d, src)
		return
	}
	for i, v := range src {
		dst[i] = T(v)
	}
}
