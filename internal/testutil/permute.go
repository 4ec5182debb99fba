package testutil

// Permutations returns every ordering of the indices 0..n-1. The result
// has n! entries, so callers keep n small.
func Permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range Permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

// Reorder returns items in the order given by perm.
func Reorder[T any](items []T, perm []int) []T {
	out := make([]T, len(perm))
	for i, idx := range perm {
		out[i] = items[idx]
	}
	return out
}
