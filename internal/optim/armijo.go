package optim

import (
	"errors"
	"fmt"
)

// Armijo is a geometric backtracking search enforcing only the
// sufficient-decrease (first Wolfe / Goldstein) condition
//
//	f(a) <= f(0) + ftol*a*f'(0)
//
// It is the search used with bound projection, where an active-set
// change along the step makes curvature conditions unreliable.
type Armijo struct {
	ftol float64
	rho  float64

	step    float64
	stepMin float64
	f0, df0 float64
	started bool
	err     error
}

// NewArmijo creates the search. Both parameters must lie strictly in
// (0, 1).
func NewArmijo(ftol, rho float64) (*Armijo, error) {
	if !(ftol > 0 && ftol < 1) {
		return nil, fmt.Errorf("optim: Armijo tolerance must be in (0,1), got %g", ftol)
	}
	if !(rho > 0 && rho < 1) {
		return nil, fmt.Errorf("optim: Armijo backtracking factor must be in (0,1), got %g", rho)
	}
	return &Armijo{ftol: ftol, rho: rho}, nil
}

// DefaultArmijo returns the search with the customary parameters.
func DefaultArmijo() *Armijo {
	ls, err := NewArmijo(1e-4, 0.5)
	if err != nil {
		panic(err)
	}
	return ls
}

func (ls *Armijo) Step() float64 { return ls.step }
func (ls *Armijo) Err() error    { return ls.err }

func (ls *Armijo) Start(f0, df0, step, stepMin, stepMax float64) (SearchStatus, error) {
	ls.started = false
	ls.err = nil
	switch {
	case df0 >= 0:
		ls.err = ErrNonDescent
	case !(step > 0):
		ls.err = fmt.Errorf("optim: initial step must be positive, got %g", step)
	case stepMin < 0 || stepMax < stepMin:
		ls.err = fmt.Errorf("optim: invalid step range [%g, %g]", stepMin, stepMax)
	}
	if ls.err != nil {
		return SearchError, ls.err
	}
	if step > stepMax {
		step = stepMax
	}
	ls.started = true
	ls.f0, ls.df0 = f0, df0
	ls.step, ls.stepMin = step, stepMin
	return SearchInProgress, nil
}

// Iterate accepts the step as soon as the sufficient-decrease condition
// holds; otherwise it backtracks geometrically. The derivative argument
// is ignored: backtracking needs only values.
func (ls *Armijo) Iterate(f, _ float64) (float64, SearchStatus) {
	if !ls.started {
		ls.err = errors.New("optim: line search iterate before start")
		return ls.step, SearchError
	}
	if f <= ls.f0+ls.ftol*ls.step*ls.df0 {
		return ls.step, SearchConverged
	}
	next := ls.step * ls.rho
	if next < ls.stepMin || next == 0 {
		ls.err = errors.New("optim: backtracking below minimum step")
		return ls.step, SearchWarning
	}
	ls.step = next
	return ls.step, SearchInProgress
}
