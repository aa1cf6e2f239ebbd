package optim

import (
	"math"
	"testing"

	"github.com/cwbudde/deconvolve/internal/vec"
)

func newOptimSpace(t *testing.T, shape ...int) *vec.Space[float64] {
	t.Helper()
	s, err := vec.NewSpace[float64](shape...)
	if err != nil {
		t.Fatalf("NewSpace(%v) failed: %v", shape, err)
	}
	return s
}

func TestTask_String(t *testing.T) {
	tests := []struct {
		task Task
		want string
	}{
		{TaskComputeFG, "compute-fg"},
		{TaskNewX, "new-x"},
		{TaskFinalX, "final-x"},
		{TaskWarning, "warning"},
		{TaskError, "error"},
		{Task(0), "unknown"},
		{Task(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.task.String(); got != tt.want {
			t.Errorf("Task(%d).String() = %q, want %q", tt.task, got, tt.want)
		}
	}
}

func TestTask_Terminal(t *testing.T) {
	tests := []struct {
		task Task
		want bool
	}{
		{TaskComputeFG, false},
		{TaskNewX, false},
		{TaskFinalX, true},
		{TaskWarning, true},
		{TaskError, true},
	}
	for _, tt := range tests {
		if got := tt.task.Terminal(); got != tt.want {
			t.Errorf("%v.Terminal() = %v, want %v", tt.task, got, tt.want)
		}
	}
}

func TestCGMethod_String(t *testing.T) {
	tests := []struct {
		method CGMethod
		want   string
	}{
		{FletcherReeves, "fletcher-reeves"},
		{PolakRibiere, "polak-ribiere+"},
		{HestenesStiefel, "hestenes-stiefel"},
		{DaiYuan, "dai-yuan"},
		{CGMethod(0), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("CGMethod(%d).String() = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestSetTolerances_Validation(t *testing.T) {
	space := newOptimSpace(t, 4)
	o, err := NewNLCG(space, PolakRibiere, nil)
	if err != nil {
		t.Fatalf("NewNLCG failed: %v", err)
	}

	tests := []struct {
		name         string
		gatol, grtol float64
		wantErr      bool
	}{
		{"valid", 1e-8, 1e-6, false},
		{"zero both", 0, 0, false},
		{"negative gatol", -1, 1e-6, true},
		{"NaN gatol", math.NaN(), 1e-6, true},
		{"negative grtol", 0, -0.1, true},
		{"grtol one", 0, 1, true},
		{"grtol above one", 0, 2, true},
		{"NaN grtol", 0, math.NaN(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.SetTolerances(tt.gatol, tt.grtol)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetTolerances(%g, %g) error = %v, wantErr %v", tt.gatol, tt.grtol, err, tt.wantErr)
			}
		})
	}
}

func TestIterate_BeforeStart(t *testing.T) {
	space := newOptimSpace(t, 2)
	o, err := NewNLCG(space, FletcherReeves, nil)
	if err != nil {
		t.Fatalf("NewNLCG failed: %v", err)
	}
	x := space.Create()
	g := space.Create()
	if task := o.Iterate(x, 0, g); task != TaskError {
		t.Errorf("Iterate before Start returned %v, want %v", task, TaskError)
	}
	if o.Err() != ErrNotStarted {
		t.Errorf("Err() = %v, want ErrNotStarted", o.Err())
	}
}
