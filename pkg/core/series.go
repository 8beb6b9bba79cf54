package core

import (
	"golang.org/x/exp/constraints"
)

// Series is an ordered time series of values with the usual crossover helpers.
type Series[T constraints.Ordered] []T

// Values returns the underlying slice of values.
func (s Series[T]) Values() []T { return s }

// Length returns the number of values in the series.
func (s Series[T]) Length() int { return len(s) }

// Last returns the value at a given distance from the end: 0 is the last
// value, 1 the second-to-last, and so on.
func (s Series[T]) Last(position int) T {
	return s[len(s)-1-position]
}

// LastValues returns a slice with the last `size` values, or the whole
// series if it is shorter than size.
func (s Series[T]) LastValues(size int) Series[T] {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// Crossover reports whether this series has just crossed above ref.
func (s Series[T]) Crossover(ref Series[T]) bool {
	return s.Last(0) > ref.Last(0) && s.Last(1) <= ref.Last(1)
}

// Crossunder reports whether this series has just crossed below ref.
func (s Series[T]) Crossunder(ref Series[T]) bool {
	return s.Last(0) <= ref.Last(0) && s.Last(1) > ref.Last(1)
}

// Cross reports a crossover in either direction.
func (s Series[T]) Cross(ref Series[T]) bool {
	return s.Crossover(ref) || s.Crossunder(ref)
}
