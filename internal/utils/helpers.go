package utils

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// Unique returns the distinct elements of slice in first-seen order.
func Unique[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, item := range slice {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Chunk splits slice into consecutive pieces of at most size elements.
func Chunk[T any](slice []T, size int) [][]T {
	if size <= 0 || len(slice) <= size {
		if len(slice) == 0 {
			return nil
		}
		return [][]T{slice}
	}
	chunks := make([][]T, 0, (len(slice)+size-1)/size)
	for size < len(slice) {
		slice, chunks = slice[size:], append(chunks, slice[:size])
	}
	return append(chunks, slice)
}
