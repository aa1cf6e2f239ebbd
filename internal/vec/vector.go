package vec

// Vector is a flat sequence of real numbers belonging to exactly one
// Space. It is mutable in place. The backing storage is either owned
// exclusively (Create, Clone, CopyOf) or shared with the caller (Wrap).
type Vector[T Float] struct {
	space *Space[T]
	data  []T
}

// Space returns the owning space.
func (v *Vector[T]) Space() *Space[T] { return v.space }

// Len returns the number of elements.
func (v *Vector[T]) Len() int { return len(v.data) }

// Data exposes the backing slice as a non-owning borrow. The slice is
// valid only while the vector is alive; callers must not mutate it
// while an optimizer run is mutating the vector.
func (v *Vector[T]) Data() []T { return v.data }

// At returns element i.
func (v *Vector[T]) At(i int) float64 { return float64(v.data[i]) }

// SetAt assigns element i.
func (v *Vector[T]) SetAt(i int, value float64) { v.data[i] = T(value) }
