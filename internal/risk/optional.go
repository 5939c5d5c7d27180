package risk

// Optional marks an input the caller may leave unknown. The zero value is
// unknown, which is distinct from a known zero.
type Optional[T any] struct {
	value T
	known bool
}

// Known wraps a supplied value.
func Known[T any](v T) Optional[T] {
	return Optional[T]{value: v, known: true}
}

// FromPtr maps a nil pointer to unknown.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return Optional[T]{}
	}
	return Known(*p)
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.known
}

func (o Optional[T]) IsKnown() bool {
	return o.known
}
