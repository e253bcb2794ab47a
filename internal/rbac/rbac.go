package rbac

// PermissionLevel orders what a subject may do to a resource. Higher wins when
// an account holds several grants (directly or through team membership).
type PermissionLevel string

const (
	LevelReviewer    PermissionLevel = "REVIEWER"
	LevelContributor PermissionLevel = "CONTRIBUTOR"
	LevelOwner       PermissionLevel = "OWNER"
)

var levelRank = map[PermissionLevel]int{
	LevelReviewer:    1,
	LevelContributor: 2,
	LevelOwner:       3,
}

// Valid reports whether the level is one of the known grants.
func Valid(level PermissionLevel) bool {
	_, ok := levelRank[level]
	return ok
}

// Rank returns the position of a level in the total order, 0 for unknown.
func Rank(level PermissionLevel) int {
	return levelRank[level]
}

// Highest reduces a set of levels to the maximum by the total order. Unknown
// levels are excluded; an all-unknown or empty input yields ok=false rather
// than a default grant.
func Highest(levels ...PermissionLevel) (PermissionLevel, bool) {
	var best PermissionLevel
	bestRank := 0
	for _, level := range levels {
		if rank := levelRank[level]; rank > bestRank {
			best = level
			bestRank = rank
		}
	}
	return best, bestRank > 0
}

// Covers reports whether held grants at least the capability of required.
func Covers(held, required PermissionLevel) bool {
	return levelRank[held] >= levelRank[required] && Valid(required)
}
