package readiness

// Unchecked is rendered for fields that were never read.
const Unchecked = "unchecked"

// Field is one lazily read status dimension. The zero value is Unchecked;
// once Checked it keeps the raw device answer and its interpretation.
type Field[T any] struct {
	checked bool
	raw     string
	value   T
}

func checked[T any](raw string, value T) Field[T] {
	return Field[T]{checked: true, raw: raw, value: value}
}

// Checked reports whether the field was read or seeded.
func (f Field[T]) Checked() bool {
	return f.checked
}

// Get returns the derived value and whether it is known.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.checked
}

// Raw returns the device answer, or "" while Unchecked.
func (f Field[T]) Raw() string {
	return f.raw
}
