package identity

// pathGuard tracks the keys visited by one pointer walk so a corrupted
// pointer graph ends the walk instead of looping.
type pathGuard struct {
	seen map[string]bool
}

func newPathGuard() *pathGuard {
	return &pathGuard{seen: make(map[string]bool)}
}

// wouldCycle reports whether key was already visited in this walk.
func (g *pathGuard) wouldCycle(key string) bool {
	return g.seen[key]
}

// record marks key as visited.
func (g *pathGuard) record(key string) {
	g.seen[key] = true
}
