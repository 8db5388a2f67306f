package memory

import "slices"

// Slice is a growable container whose elements are visited in index order.
type Slice[E any] []E

// Range yields a pointer to each element.
func (s Slice[E]) Range(yield func(elem any) bool) {
	for i := range s {
		if !yield(&s[i]) {
			return
		}
	}
}

// Clone returns a copy that does not share backing storage with s.
func (s Slice[E]) Clone() Slice[E] {
	return slices.Clone(s)
}

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// Get returns the value and whether it is present.
func (o *Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Ptr returns a pointer to the value, or nil if absent.
func (o *Optional[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	return &o.value
}

// HasValue reports whether a value is present.
func (o *Optional[T]) HasValue() bool {
	return o.ok
}

// Accept visits the value if present.
func (o *Optional[T]) Accept(v Visitor) {
	if o.ok {
		visitOne(v, &o.value)
	}
}

// Pair is a two-element tuple.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Accept visits both elements in order.
func (p *Pair[A, B]) Accept(v Visitor) {
	Visit(v, &p.First, &p.Second)
}
