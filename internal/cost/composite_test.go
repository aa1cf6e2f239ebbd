package cost

import (
	"math"
	"testing"

	"github.com/cwbudde/deconvolve/internal/vec"
)

func newCostSpace(t *testing.T, shape ...int) *vec.Space[float64] {
	t.Helper()
	s, err := vec.NewSpace[float64](shape...)
	if err != nil {
		t.Fatalf("NewSpace(%v) failed: %v", shape, err)
	}
	return s
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// constantCost is a fake differentiable with value alpha*v and gradient
// alpha*ones, counting every evaluation.
type constantCost struct {
	space *vec.Space[float64]
	value float64
	evals int
}

func (c *constantCost) Space() *vec.Space[float64] { return c.space }

func (c *constantCost) Evaluate(alpha float64, x *vec.Vector[float64]) (float64, error) {
	c.evals++
	return alpha * c.value, nil
}

func (c *constantCost) EvaluateGradient(alpha float64, x, gx *vec.Vector[float64], clear bool) (float64, error) {
	c.evals++
	gd := gx.Data()
	if clear {
		for i := range gd {
			gd[i] = alpha
		}
	} else {
		for i := range gd {
			gd[i] += alpha
		}
	}
	return alpha * c.value, nil
}

func TestNewComposite_Errors(t *testing.T) {
	space := newCostSpace(t, 4)
	other := newCostSpace(t, 4)
	a := &constantCost{space: space, value: 1}
	b := &constantCost{space: other, value: 1}

	if _, err := NewComposite[float64](); err == nil {
		t.Error("expected error for empty composite")
	}
	if _, err := NewComposite(Term[float64]{1, a}, Term[float64]{1, b}); err != vec.ErrSpaceMismatch {
		t.Errorf("expected ErrSpaceMismatch for mixed spaces, got %v", err)
	}
	if _, err := NewComposite(Term[float64]{math.NaN(), a}); err == nil {
		t.Error("expected error for NaN weight")
	}
	if _, err := NewComposite(Term[float64]{math.Inf(1), a}); err == nil {
		t.Error("expected error for infinite weight")
	}
}

func TestComposite_WeightedSum(t *testing.T) {
	space := newCostSpace(t, 3)
	a := &constantCost{space: space, value: 10}
	b := &constantCost{space: space, value: 4}
	c, err := NewComposite(Term[float64]{2.0, a}, Term[float64]{0.5, b})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	if c.Space() != space {
		t.Error("composite space does not match term space")
	}

	x := space.Create()
	f, err := c.Evaluate(1, x)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !approxEqual(f, 2.0*10+0.5*4, 1e-14) {
		t.Errorf("expected cost 22, got %g", f)
	}

	// The outer alpha multiplies every term weight.
	f, err = c.Evaluate(3, x)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !approxEqual(f, 3*22, 1e-12) {
		t.Errorf("expected cost 66, got %g", f)
	}
}

func TestComposite_GradientAccumulation(t *testing.T) {
	space := newCostSpace(t, 3)
	a := &constantCost{space: space, value: 10}
	b := &constantCost{space: space, value: 4}
	c, err := NewComposite(Term[float64]{2.0, a}, Term[float64]{0.5, b})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}

	x := space.Create()
	gx := space.CreateFilled(100)

	// clear=true: only the first term overwrites, the second accumulates.
	f, err := c.EvaluateGradient(1, x, gx, true)
	if err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	if !approxEqual(f, 22, 1e-14) {
		t.Errorf("expected cost 22, got %g", f)
	}
	for i, g := range gx.Data() {
		if !approxEqual(g, 2.5, 1e-14) {
			t.Errorf("gx[%d] = %g, want 2.5", i, g)
		}
	}

	// clear=false: both terms accumulate onto the previous gradient.
	f, err = c.EvaluateGradient(1, x, gx, false)
	if err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	if !approxEqual(f, 22, 1e-14) {
		t.Errorf("expected cost 22, got %g", f)
	}
	for i, g := range gx.Data() {
		if !approxEqual(g, 5.0, 1e-14) {
			t.Errorf("gx[%d] = %g, want 5.0", i, g)
		}
	}
}

func TestComposite_ZeroAlphaSkipsTerms(t *testing.T) {
	space := newCostSpace(t, 3)
	a := &constantCost{space: space, value: 10}
	b := &constantCost{space: space, value: 4}
	c, err := NewComposite(Term[float64]{2.0, a}, Term[float64]{0.5, b})
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}

	x := space.Create()
	gx := space.CreateFilled(7)

	if f, err := c.Evaluate(0, x); err != nil || f != 0 {
		t.Errorf("Evaluate(0) = %g, %v, want 0, nil", f, err)
	}
	if f, err := c.EvaluateGradient(0, x, gx, true); err != nil || f != 0 {
		t.Errorf("EvaluateGradient(0) = %g, %v, want 0, nil", f, err)
	}
	for i, g := range gx.Data() {
		if g != 0 {
			t.Errorf("gx[%d] = %g, want 0 after clearing call", i, g)
		}
	}

	space.Fill(gx, 7)
	if _, err := c.EvaluateGradient(0, x, gx, false); err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	for i, g := range gx.Data() {
		if g != 7 {
			t.Errorf("gx[%d] = %g, want 7 untouched without clear", i, g)
		}
	}

	if a.evals != 0 || b.evals != 0 {
		t.Errorf("terms were evaluated at alpha 0: %d, %d calls", a.evals, b.evals)
	}
}
