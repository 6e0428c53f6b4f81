package tier

// Tier is the coarse authorization level attached to a session and
// propagated into issued tokens.
type Tier string

const (
	TierAdmin     Tier = "admin"
	TierPreferred Tier = "preferred"
	TierNormal    Tier = "normal"
	TierFree      Tier = "free"
)

// rank orders tiers by privilege. Higher is more privileged.
var rank = map[Tier]int{
	TierFree:      0,
	TierNormal:    1,
	TierPreferred: 2,
	TierAdmin:     3,
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	_, ok := rank[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}

// AtLeast reports whether t carries at least the privilege of other.
func (t Tier) AtLeast(other Tier) bool {
	return rank[t] >= rank[other]
}

// Parse maps a canonical tier name to a Tier. Unknown values map to
// TierFree so a corrupted or stale claim can never escalate privilege.
func Parse(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return TierFree
	}
	return t
}
