// Package version names cache generations.
//
// Every cache store is keyed by a generation identifier. Bumping the
// identifier whenever the asset manifest changes makes the previous stores
// stale, and activation removes them.
package version

// Generation is the identifier of the cache generation shipped with this
// build of the agent.
const Generation = "vibe-news-v1"

// Stale returns the names that do not belong to the current generation,
// preserving their order.
func Stale(names []string, current string) []string {
	var stale []string
	for _, name := range names {
		if name != current {
			stale = append(stale, name)
		}
	}
	return stale
}
