package util

// Unpack spreads a slice across the given variables.
// Extra slice elements are ignored, extra variables keep their values.
func Unpack[T any](toUnpack []T, unpackInto ...*T) {
	n := len(toUnpack)
	if len(unpackInto) < n {
		n = len(unpackInto)
	}
	for i := 0; i < n; i++ {
		*unpackInto[i] = toUnpack[i]
	}
}
