package cost

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/vec"
)

func TestQuadratic_IdentityModel(t *testing.T) {
	space := newCostSpace(t, 2)
	y, err := space.CopyOf([]float64{1, 2})
	if err != nil {
		t.Fatalf("CopyOf failed: %v", err)
	}
	q, err := NewQuadratic[float64](nil, y, nil)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}
	if q.Space() != space {
		t.Error("identity model should take the data space as variable space")
	}

	x, _ := space.CopyOf([]float64{3, 5})
	// r = [2, 3], f = (1/2)(4 + 9).
	f, err := q.Evaluate(1, x)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !approxEqual(f, 6.5, 1e-14) {
		t.Errorf("cost = %g, want 6.5", f)
	}

	gx := space.Create()
	f, err = q.EvaluateGradient(2, x, gx, true)
	if err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	if !approxEqual(f, 13, 1e-14) {
		t.Errorf("scaled cost = %g, want 13", f)
	}
	want := []float64{4, 6}
	for i, g := range gx.Data() {
		if !approxEqual(g, want[i], 1e-14) {
			t.Errorf("gx[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestQuadratic_Weights(t *testing.T) {
	space := newCostSpace(t, 2)
	y, _ := space.CopyOf([]float64{1, 2})
	w, _ := space.CopyOf([]float64{1, 0})
	q, err := NewQuadratic[float64](nil, y, w)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}

	x, _ := space.CopyOf([]float64{3, 5})
	// The zero-weight sample contributes nothing.
	f, err := q.Evaluate(1, x)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !approxEqual(f, 2, 1e-14) {
		t.Errorf("cost = %g, want 2", f)
	}

	gx := space.Create()
	if _, err := q.EvaluateGradient(1, x, gx, true); err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	want := []float64{2, 0}
	for i, g := range gx.Data() {
		if !approxEqual(g, want[i], 1e-14) {
			t.Errorf("gx[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestQuadratic_MatrixModel(t *testing.T) {
	in := newCostSpace(t, 2)
	out := newCostSpace(t, 2)
	a := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})
	model, err := op.NewMatrix(out, in, a)
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}

	y, _ := out.CopyOf([]float64{1, 1})
	q, err := NewQuadratic[float64](model, y, nil)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}
	if q.Space() != in {
		t.Error("variable space should be the model input space")
	}

	x, _ := in.CopyOf([]float64{1, 1})
	// Hx = [3, 7], r = [2, 6], f = (1/2)(4 + 36) = 20.
	gx := in.Create()
	f, err := q.EvaluateGradient(1, x, gx, true)
	if err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	if !approxEqual(f, 20, 1e-12) {
		t.Errorf("cost = %g, want 20", f)
	}
	// grad = A^T r = [2+18, 4+24].
	want := []float64{20, 28}
	for i, g := range gx.Data() {
		if !approxEqual(g, want[i], 1e-12) {
			t.Errorf("gx[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestQuadratic_GradientAccumulate(t *testing.T) {
	space := newCostSpace(t, 2)
	y, _ := space.CopyOf([]float64{1, 2})
	q, err := NewQuadratic[float64](nil, y, nil)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}

	x, _ := space.CopyOf([]float64{3, 5})
	gx := space.CreateFilled(10)
	if _, err := q.EvaluateGradient(1, x, gx, false); err != nil {
		t.Fatalf("EvaluateGradient failed: %v", err)
	}
	want := []float64{12, 13}
	for i, g := range gx.Data() {
		if !approxEqual(g, want[i], 1e-14) {
			t.Errorf("gx[%d] = %g, want %g", i, g, want[i])
		}
	}
}

func TestQuadratic_SpaceChecks(t *testing.T) {
	space := newCostSpace(t, 2)
	other := newCostSpace(t, 2)
	y, _ := space.CopyOf([]float64{1, 2})

	badW, _ := other.CopyOf([]float64{1, 1})
	if _, err := NewQuadratic[float64](nil, y, badW); err != vec.ErrSpaceMismatch {
		t.Errorf("expected ErrSpaceMismatch for foreign weights, got %v", err)
	}

	q, err := NewQuadratic[float64](nil, y, nil)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}
	foreign := other.Create()
	if _, err := q.Evaluate(1, foreign); err != vec.ErrSpaceMismatch {
		t.Errorf("expected ErrSpaceMismatch for foreign x, got %v", err)
	}
	if _, err := q.EvaluateGradient(1, foreign, other.Create(), true); err != vec.ErrSpaceMismatch {
		t.Errorf("expected ErrSpaceMismatch for foreign gradient pair, got %v", err)
	}
}

func TestQuadratic_ZeroAlpha(t *testing.T) {
	space := newCostSpace(t, 2)
	y, _ := space.CopyOf([]float64{1, 2})
	q, err := NewQuadratic[float64](nil, y, nil)
	if err != nil {
		t.Fatalf("NewQuadratic failed: %v", err)
	}

	x := space.Create()
	gx := space.CreateFilled(3)
	if f, err := q.EvaluateGradient(0, x, gx, true); err != nil || f != 0 {
		t.Errorf("EvaluateGradient(0) = %g, %v, want 0, nil", f, err)
	}
	for i, g := range gx.Data() {
		if g != 0 {
			t.Errorf("gx[%d] = %g, want 0", i, g)
		}
	}
}
