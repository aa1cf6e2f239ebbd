package deconv

import (
	"fmt"
	"math"
)

// OptimalScale returns the factor t minimizing j1*t^q1 + j2*t^-q2 for
// two positively homogeneous cost terms of degrees q1 and q2 evaluated
// at the current point. It balances the terms of an alternating
// object/kernel minimization, where rescaling one by t and the other by
// 1/t leaves the data fit unchanged:
//
//	t = ((q2*j2) / (q1*j1))^(1/(q1+q2))
func OptimalScale(j1, q1, j2, q2 float64) (float64, error) {
	switch {
	case !(q1 > 0) || !(q2 > 0):
		return 0, fmt.Errorf("deconv: homogeneity degrees must be positive, got %g and %g", q1, q2)
	case !(j1 > 0) || !(j2 > 0) || math.IsInf(j1, 1) || math.IsInf(j2, 1):
		return 0, fmt.Errorf("deconv: cost terms must be positive and finite, got %g and %g", j1, j2)
	}
	return math.Pow(q2*j2/(q1*j1), 1/(q1+q2)), nil
}
