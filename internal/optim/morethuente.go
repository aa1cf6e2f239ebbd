package optim

import (
	"errors"
	"fmt"
	"math"
)

// Bracketing and extrapolation constants from the MINPACK-2 dcsrch
// routine.
const (
	mtBisectBias = 0.66
	mtExtrapLo   = 1.1
	mtExtrapHi   = 4.0
)

const (
	mtStageArmijo = 1
	mtStageWolfe  = 2
)

// MoreThuente finds a step satisfying the strong Wolfe conditions
//
//	f(a) <= f(0) + ftol*a*f'(0)   (sufficient decrease)
//	|f'(a)| <= gtol*|f'(0)|       (curvature)
//
// maintaining a bracketing interval whose endpoints are refined with
// safeguarded cubic/quadratic interpolation and a bisection fallback.
// It is the search of choice when curvature information matters (CG and
// unconstrained L-BFGS).
type MoreThuente struct {
	ftol float64
	gtol float64
	xtol float64

	step    float64
	stepMin float64
	stepMax float64
	err     error

	started  bool
	bracket  bool
	stage    int
	f0, df0  float64
	fx, dfx  float64
	fy, dfy  float64
	stx, sty float64
	lo, hi   float64
	width    [2]float64
}

// NewMoreThuente creates the search with the given tolerances. The
// validation is strict: ftol and gtol must satisfy 0 < ftol < gtol < 1
// and xtol must be positive.
func NewMoreThuente(ftol, gtol, xtol float64) (*MoreThuente, error) {
	if !(ftol > 0 && ftol < gtol && gtol < 1) {
		return nil, fmt.Errorf("optim: More-Thuente tolerances must satisfy 0 < ftol < gtol < 1, got %g, %g", ftol, gtol)
	}
	if !(xtol > 0) {
		return nil, fmt.Errorf("optim: More-Thuente step tolerance must be positive, got %g", xtol)
	}
	return &MoreThuente{ftol: ftol, gtol: gtol, xtol: xtol}, nil
}

// DefaultMoreThuente returns the search with the customary tolerances.
func DefaultMoreThuente() *MoreThuente {
	ls, err := NewMoreThuente(1e-4, 0.9, 1e-10)
	if err != nil {
		panic(err)
	}
	return ls
}

func (ls *MoreThuente) Step() float64 { return ls.step }
func (ls *MoreThuente) Err() error    { return ls.err }

func (ls *MoreThuente) Start(f0, df0, step, stepMin, stepMax float64) (SearchStatus, error) {
	ls.started = false
	ls.err = nil
	switch {
	case df0 >= 0:
		ls.err = ErrNonDescent
	case !(step > 0):
		ls.err = fmt.Errorf("optim: initial step must be positive, got %g", step)
	case stepMin < 0 || stepMax < stepMin:
		ls.err = fmt.Errorf("optim: invalid step range [%g, %g]", stepMin, stepMax)
	case step < stepMin || step > stepMax:
		ls.err = fmt.Errorf("optim: initial step %g outside [%g, %g]", step, stepMin, stepMax)
	}
	if ls.err != nil {
		return SearchError, ls.err
	}

	ls.started = true
	ls.bracket = false
	ls.stage = mtStageArmijo
	ls.f0, ls.df0 = f0, df0
	ls.step, ls.stepMin, ls.stepMax = step, stepMin, stepMax
	ls.width[0] = stepMax - stepMin
	ls.width[1] = ls.width[0] / 0.5

	// The interval endpoints start at the origin.
	ls.stx, ls.fx, ls.dfx = 0, f0, df0
	ls.sty, ls.fy, ls.dfy = 0, f0, df0
	ls.lo, ls.hi = 0, step+mtExtrapHi*step
	return SearchInProgress, nil
}

func (ls *MoreThuente) Iterate(f, df float64) (float64, SearchStatus) {
	if !ls.started {
		ls.err = errors.New("optim: line search iterate before start")
		return ls.step, SearchError
	}

	dftest := ls.ftol * ls.df0
	ftest := ls.f0 + ls.step*dftest

	// Convergence and warning tests.
	switch {
	case ls.bracket && (ls.step <= ls.lo || ls.step >= ls.hi):
		ls.err = errors.New("optim: rounding errors prevent line search progress")
		return ls.step, SearchWarning
	case ls.bracket && ls.hi-ls.lo <= ls.xtol*ls.hi:
		ls.err = errors.New("optim: line search interval below step tolerance")
		return ls.step, SearchWarning
	case ls.step == ls.stepMax && f <= ftest && df <= dftest:
		ls.err = errors.New("optim: line search step at upper bound")
		return ls.step, SearchWarning
	case ls.step == ls.stepMin && (f > ftest || df >= dftest):
		ls.err = errors.New("optim: line search step at lower bound")
		return ls.step, SearchWarning
	case f <= ftest && math.Abs(df) <= ls.gtol*(-ls.df0):
		return ls.step, SearchConverged
	}

	if ls.stage == mtStageArmijo && f <= ftest && df >= 0 {
		ls.stage = mtStageWolfe
	}

	// While only the sufficient-decrease condition holds, work on the
	// modified function psi(a) = f(a) - f(0) - ftol*a*f'(0).
	if ls.stage == mtStageArmijo && f <= ls.fx && f > ftest {
		fm := f - ls.step*dftest
		fxm := ls.fx - ls.stx*dftest
		fym := ls.fy - ls.sty*dftest
		dfm := df - dftest
		dfxm := ls.dfx - dftest
		dfym := ls.dfy - dftest
		ls.refine(&fxm, &dfxm, &fym, &dfym, fm, dfm)
		ls.fx = fxm + ls.stx*dftest
		ls.fy = fym + ls.sty*dftest
		ls.dfx = dfxm + dftest
		ls.dfy = dfym + dftest
	} else {
		ls.refine(&ls.fx, &ls.dfx, &ls.fy, &ls.dfy, f, df)
	}

	// Force the interval to shrink; bisect when interpolation stalls.
	if ls.bracket {
		if math.Abs(ls.sty-ls.stx) >= mtBisectBias*ls.width[1] {
			ls.step = ls.stx + 0.5*(ls.sty-ls.stx)
		}
		ls.width[1] = ls.width[0]
		ls.width[0] = math.Abs(ls.sty - ls.stx)
	}

	if ls.bracket {
		ls.lo = math.Min(ls.stx, ls.sty)
		ls.hi = math.Max(ls.stx, ls.sty)
	} else {
		ls.lo = ls.step + mtExtrapLo*(ls.step-ls.stx)
		ls.hi = ls.step + mtExtrapHi*(ls.step-ls.stx)
	}

	ls.step = math.Min(math.Max(ls.step, ls.stepMin), ls.stepMax)
	if ls.bracket && (ls.step <= ls.lo || ls.step >= ls.hi || ls.hi-ls.lo <= ls.xtol*ls.hi) {
		ls.step = ls.stx
	}
	return ls.step, SearchInProgress
}

// refine is the dcstep update: it computes a safeguarded trial step and
// updates the interval [stx, sty] containing a step satisfying both
// conditions. stx holds the best step so far.
func (ls *MoreThuente) refine(fx, dfx, fy, dfy *float64, fp, dfp float64) {
	stx, sty, stp := ls.stx, ls.sty, ls.step
	var trial float64
	sgnd := dfp * math.Copysign(1, *dfx)

	switch {
	case fp > *fx:
		// Higher value: the minimum is bracketed between stx and stp.
		// Take the cubic step if it is closer to stx than the
		// quadratic one, else their average.
		theta := 3*(*fx-fp)/(stp-stx) + *dfx + dfp
		s := math.Max(math.Abs(theta), math.Max(math.Abs(*dfx), math.Abs(dfp)))
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(*dfx/s)*(dfp/s))
		if stp < stx {
			gamma = -gamma
		}
		p := (gamma - *dfx) + theta
		q := ((gamma - *dfx) + gamma) + dfp
		cubic := stx + p/q*(stp-stx)
		quad := stx + ((*dfx/((*fx-fp)/(stp-stx)+*dfx))/2)*(stp-stx)
		if math.Abs(cubic-stx) < math.Abs(quad-stx) {
			trial = cubic
		} else {
			trial = cubic + (quad-cubic)/2
		}
		ls.bracket = true

	case sgnd < 0:
		// Lower value, derivatives of opposite sign: bracketed between
		// stx and stp. Take the farther of the cubic and secant steps.
		theta := 3*(*fx-fp)/(stp-stx) + *dfx + dfp
		s := math.Max(math.Abs(theta), math.Max(math.Abs(*dfx), math.Abs(dfp)))
		gamma := s * math.Sqrt((theta/s)*(theta/s)-(*dfx/s)*(dfp/s))
		if stp > stx {
			gamma = -gamma
		}
		p := (gamma - dfp) + theta
		q := ((gamma - dfp) + gamma) + *dfx
		cubic := stp + p/q*(stx-stp)
		secant := stp + dfp/(dfp-*dfx)*(stx-stp)
		if math.Abs(cubic-stp) > math.Abs(secant-stp) {
			trial = cubic
		} else {
			trial = secant
		}
		ls.bracket = true

	case math.Abs(dfp) < math.Abs(*dfx):
		// Lower value, same derivative sign, decreasing magnitude. The
		// cubic step is used only when it tends to infinity in the
		// direction of the step or lies beyond stp.
		theta := 3*(*fx-fp)/(stp-stx) + *dfx + dfp
		s := math.Max(math.Abs(theta), math.Max(math.Abs(*dfx), math.Abs(dfp)))
		gamma := s * math.Sqrt(math.Max(0, (theta/s)*(theta/s)-(*dfx/s)*(dfp/s)))
		if stp > stx {
			gamma = -gamma
		}
		p := (gamma - dfp) + theta
		q := (gamma + (*dfx - dfp)) + gamma
		r := p / q
		var cubic float64
		switch {
		case r < 0 && gamma != 0:
			cubic = stp + r*(stx-stp)
		case stp > stx:
			cubic = ls.hi
		default:
			cubic = ls.lo
		}
		secant := stp + dfp/(dfp-*dfx)*(stx-stp)
		if ls.bracket {
			if math.Abs(cubic-stp) < math.Abs(secant-stp) {
				trial = cubic
			} else {
				trial = secant
			}
			if stp > stx {
				trial = math.Min(stp+mtBisectBias*(sty-stp), trial)
			} else {
				trial = math.Max(stp+mtBisectBias*(sty-stp), trial)
			}
		} else {
			if math.Abs(cubic-stp) > math.Abs(secant-stp) {
				trial = cubic
			} else {
				trial = secant
			}
			trial = math.Min(ls.hi, math.Max(ls.lo, trial))
		}

	default:
		// Lower value, same sign, magnitude not decreasing. Without a
		// bracket the step runs to the relevant bound.
		if ls.bracket {
			theta := 3*(fp-*fy)/(sty-stp) + *dfy + dfp
			s := math.Max(math.Abs(theta), math.Max(math.Abs(*dfy), math.Abs(dfp)))
			gamma := s * math.Sqrt((theta/s)*(theta/s)-(*dfy/s)*(dfp/s))
			if stp > sty {
				gamma = -gamma
			}
			p := (gamma - dfp) + theta
			q := ((gamma - dfp) + gamma) + *dfy
			trial = stp + p/q*(sty-stp)
		} else if stp > stx {
			trial = ls.hi
		} else {
			trial = ls.lo
		}
	}

	// Update the interval.
	if fp > *fx {
		ls.sty, *fy, *dfy = stp, fp, dfp
	} else {
		if sgnd < 0 {
			ls.sty, *fy, *dfy = ls.stx, *fx, *dfx
		}
		ls.stx, *fx, *dfx = stp, fp, dfp
	}
	ls.step = trial
}
