// Package merge implements the N-way merge value used for conflicted tree
// entries, conflicted ref targets, and file content merging. A Merge holds
// an odd number of terms alternating between positive ("add") and negative
// ("remove") terms, starting positive: add0 - remove0 + add1 - remove1 + ...
// A Merge with a single term is resolved. Conflicts are always kept in
// simplified canonical form.
package merge

// Merge is a generic representation of merged values. There is exactly one
// more add than removes; the (i+1)-th add pairs with the i-th remove as a
// diff, and the zeroth add is a diff from the non-existent state.
type Merge[T comparable] struct {
	values []T
}

// Resolved creates a Merge with a single resolved value.
func Resolved[T comparable](value T) Merge[T] {
	return Merge[T]{values: []T{value}}
}

// FromTerms creates a Merge from alternating positive/negative terms.
// Panics if the number of terms is even.
func FromTerms[T comparable](values ...T) Merge[T] {
	if len(values)%2 == 0 {
		panic("merge: must have an odd number of terms")
	}
	return Merge[T]{values: values}
}

// FromRemovesAdds creates a Merge from removes and adds. There must be
// exactly one more add than removes.
func FromRemovesAdds[T comparable](removes, adds []T) Merge[T] {
	if len(adds) != len(removes)+1 {
		panic("merge: must have one more add than removes")
	}
	values := make([]T, 0, len(removes)*2+1)
	values = append(values, adds[0])
	for i, remove := range removes {
		values = append(values, remove, adds[i+1])
	}
	return Merge[T]{values: values}
}

// Terms returns the alternating positive/negative terms, starting positive.
func (m Merge[T]) Terms() []T {
	return m.values
}

// NumSides returns the number of positive terms.
func (m Merge[T]) NumSides() int {
	return (len(m.values) + 1) / 2
}

// Adds returns the positive terms.
func (m Merge[T]) Adds() []T {
	adds := make([]T, 0, m.NumSides())
	for i := 0; i < len(m.values); i += 2 {
		adds = append(adds, m.values[i])
	}
	return adds
}

// Removes returns the negative terms.
func (m Merge[T]) Removes() []T {
	removes := make([]T, 0, m.NumSides()-1)
	for i := 1; i < len(m.values); i += 2 {
		removes = append(removes, m.values[i])
	}
	return removes
}

// First returns the zeroth add, which always exists.
func (m Merge[T]) First() T {
	return m.values[0]
}

// IsResolved reports whether the merge has a single term. It does not
// attempt trivial resolution.
func (m Merge[T]) IsResolved() bool {
	return len(m.values) == 1
}

// AsResolved returns the single value of a resolved merge.
func (m Merge[T]) AsResolved() (T, bool) {
	if len(m.values) == 1 {
		return m.values[0], true
	}
	var zero T
	return zero, false
}

// ResolveTrivial attempts to resolve the merge by cancellation: positive
// occurrences count +1 and negative -1, and terms with a zero total cancel
// out. If a single value with count 1 survives, it is the resolution. The
// 3-way case also resolves when both sides made the same change.
func (m Merge[T]) ResolveTrivial() (T, bool) {
	var zero T
	if len(m.values) == 1 {
		return m.values[0], true
	}
	if len(m.values) == 3 {
		add0, remove, add1 := m.values[0], m.values[1], m.values[2]
		switch {
		case add0 == add1:
			return add0, true
		case add0 == remove:
			return add1, true
		case add1 == remove:
			return add0, true
		default:
			return zero, false
		}
	}
	counts := make(map[T]int)
	for i, v := range m.values {
		if i%2 == 0 {
			counts[v]++
		} else {
			counts[v]--
		}
	}
	var survivor T
	n := 0
	for v, count := range counts {
		if count == 0 {
			continue
		}
		n++
		if n > 1 {
			return zero, false
		}
		if count != 1 {
			return zero, false
		}
		survivor = v
	}
	if n == 1 {
		return survivor, true
	}
	return zero, false
}

// Simplify joins diffs like A->B and B->C into A->C and drops trivial A->A
// diffs: whenever an add equals some remove, the pair cancels. The result is
// the canonical form; a conflict that simplifies to one positive term is not
// a conflict.
func (m Merge[T]) Simplify() Merge[T] {
	values := append([]T(nil), m.values...)
	addIndex := 0
	for addIndex < len(values) {
		add := values[addIndex]
		cancelled := false
		for removeIndex := 1; removeIndex < len(values); removeIndex += 2 {
			if values[removeIndex] != add {
				continue
			}
			// Align the current add with the cancelled remove's pair,
			// then drop the pair.
			values[removeIndex+1], values[addIndex] = values[addIndex], values[removeIndex+1]
			values = append(values[:removeIndex], values[removeIndex+2:]...)
			cancelled = true
			break
		}
		if !cancelled {
			addIndex += 2
		}
	}
	return Merge[T]{values: values}
}

// Flatten combines alternating positive/negative sub-merges into a single
// merge: each positive sub-merge contributes its terms with signs kept,
// each negative sub-merge with signs inverted. Panics if the number of
// sub-merges is even.
func Flatten[T comparable](subs ...Merge[T]) Merge[T] {
	if len(subs)%2 == 0 {
		panic("merge: must have an odd number of terms")
	}
	var adds, removes []T
	for i, sub := range subs {
		if i%2 == 0 {
			adds = append(adds, sub.Adds()...)
			removes = append(removes, sub.Removes()...)
		} else {
			removes = append(removes, sub.Adds()...)
			adds = append(adds, sub.Removes()...)
		}
	}
	return FromRemovesAdds(removes, adds)
}

// Map creates a new merge by applying f to every term.
func Map[T, U comparable](m Merge[T], f func(T) U) Merge[U] {
	values := make([]U, len(m.values))
	for i, v := range m.values {
		values[i] = f(v)
	}
	return Merge[U]{values: values}
}

// TryMap is Map for transforms that can fail.
func TryMap[T, U comparable](m Merge[T], f func(T) (U, error)) (Merge[U], error) {
	values := make([]U, len(m.values))
	for i, v := range m.values {
		u, err := f(v)
		if err != nil {
			return Merge[U]{}, err
		}
		values[i] = u
	}
	return Merge[U]{values: values}, nil
}

// Equal reports whether two merges have identical term sequences.
func Equal[T comparable](a, b Merge[T]) bool {
	if len(a.values) != len(b.values) {
		return false
	}
	for i := range a.values {
		if a.values[i] != b.values[i] {
			return false
		}
	}
	return true
}
