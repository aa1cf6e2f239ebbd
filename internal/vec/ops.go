package vec

import "math"

// Dot returns the inner product of x and y. Accumulation is carried in
// float64 regardless of the space precision.
func (s *Space[T]) Dot(x, y *Vector[T]) (float64, error) {
	if err := s.owns(x, y); err != nil {
		return 0, err
	}
	var sum float64
	for i, xi := range x.data {
		sum += float64(xi) * float64(y.data[i])
	}
	return sum, nil
}

// WDot returns the weighted inner product sum(w[i]*x[i]*y[i]).
func (s *Space[T]) WDot(w, x, y *Vector[T]) (float64, error) {
	if err := s.owns(w, x, y); err != nil {
		return 0, err
	}
	var sum float64
	for i, wi := range w.data {
		sum += float64(wi) * float64(x.data[i]) * float64(y.data[i])
	}
	return sum, nil
}

// Norm1 returns the sum of absolute values of x.
func (s *Space[T]) Norm1(x *Vector[T]) (float64, error) {
	if err := s.owns(x); err != nil {
		return 0, err
	}
	var sum float64
	for _, xi := range x.data {
		sum += math.Abs(float64(xi))
	}
	return sum, nil
}

// Norm2 returns the Euclidean norm of x.
func (s *Space[T]) Norm2(x *Vector[T]) (float64, error) {
	if err := s.owns(x); err != nil {
		return 0, err
	}
	var sum float64
	for _, xi := range x.data {
		v := float64(xi)
		sum += v * v
	}
	return math.Sqrt(sum), nil
}

// NormInf returns the maximum absolute value of x.
func (s *Space[T]) NormInf(x *Vector[T]) (float64, error) {
	if err := s.owns(x); err != nil {
		return 0, err
	}
	var norm float64
	for _, xi := range x.data {
		norm = math.Max(norm, math.Abs(float64(xi)))
	}
	return norm, nil
}

// Fill sets every element of x to alpha.
func (s *Space[T]) Fill(x *Vector[T], alpha float64) error {
	if err := s.owns(x); err != nil {
		return err
	}
	a := T(alpha)
	for i := range x.data {
		x.data[i] = a
	}
	return nil
}

// Zero clears x.
func (s *Space[T]) Zero(x *Vector[T]) error { return s.Fill(x, 0) }

// Scale multiplies every element of x by alpha in place.
func (s *Space[T]) Scale(x *Vector[T], alpha float64) error {
	if err := s.owns(x); err != nil {
		return err
	}
	for i := range x.data {
		x.data[i] = T(float64(x.data[i]) * alpha)
	}
	return nil
}

// Copy assigns the contents of src to dst.
func (s *Space[T]) Copy(dst, src *Vector[T]) error {
	if err := s.owns(dst, src); err != nil {
		return err
	}
	copy(dst.data, src.data)
	return nil
}

// Swap exchanges the contents of x and y element-wise.
func (s *Space[T]) Swap(x, y *Vector[T]) error {
	if err := s.owns(x, y); err != nil {
		return err
	}
	for i := range x.data {
		x.data[i], y.data[i] = y.data[i], x.data[i]
	}
	return nil
}

// Combine stores the affine combination alpha*x + beta*y into dst.
// dst may alias x or y.
func (s *Space[T]) Combine(dst *Vector[T], alpha float64, x *Vector[T], beta float64, y *Vector[T]) error {
	if err := s.owns(dst, x, y); err != nil {
		return err
	}
	for i := range dst.data {
		dst.data[i] = T(alpha*float64(x.data[i]) + beta*float64(y.data[i]))
	}
	return nil
}

// AddScaled performs dst += alpha*x.
func (s *Space[T]) AddScaled(dst *Vector[T], alpha float64, x *Vector[T]) error {
	if err := s.owns(dst, x); err != nil {
		return err
	}
	for i := range dst.data {
		dst.data[i] = T(float64(dst.data[i]) + alpha*float64(x.data[i]))
	}
	return nil
}

// Multiply stores the element-wise product of x and y into dst.
// dst may alias x or y.
func (s *Space[T]) Multiply(dst, x, y *Vector[T]) error {
	if err := s.owns(dst, x, y); err != nil {
		return err
	}
	for i := range dst.data {
		dst.data[i] = T(float64(x.data[i]) * float64(y.data[i]))
	}
	return nil
}
