package merge

import "fmt"

// freshName generates a deterministic collision-free member name: the
// original name with a `$<sourceSimpleName>` suffix, then increasing
// numeric suffixes (2, 3, ...) while the result is still taken.
func freshName(name, sourceSimpleName string, available func(string) bool) string {
	candidate := fmt.Sprintf("%s$%s", name, sourceSimpleName)
	for count := 2; !available(candidate); count++ {
		candidate = fmt.Sprintf("%s$%s%d", name, sourceSimpleName, count)
	}
	return candidate
}
