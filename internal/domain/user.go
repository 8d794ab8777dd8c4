package domain

// Tier enumerates subscription tiers.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierElite   Tier = "elite"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierElite:
		return true
	}
	return false
}

// Plan describes what a tier is entitled to.
type Plan struct {
	Kinds     map[Kind]bool
	DailyCaps map[Kind]int // zero or absent means uncapped
	Priority  Priority
}

var plans = map[Tier]Plan{
	TierFree: {
		Kinds:     map[Kind]bool{KindImage: true},
		DailyCaps: map[Kind]int{KindImage: 20},
		Priority:  PriorityNormal,
	},
	TierPremium: {
		Kinds:    map[Kind]bool{KindImage: true, KindVoice: true},
		Priority: PriorityHigh,
	},
	TierElite: {
		Kinds:    map[Kind]bool{KindImage: true, KindVideo: true, KindVoice: true},
		Priority: PriorityUrgent,
	},
}

// PlanFor returns the plan of a tier. Unknown tiers get the free plan.
func PlanFor(t Tier) Plan {
	if p, ok := plans[t]; ok {
		return p
	}
	return plans[TierFree]
}

// Entitlement is the snapshot read from the accounts system on every
// submission. It is never stored on a job.
type Entitlement struct {
	UserID  string       `json:"user_id"`
	Tier    Tier         `json:"tier"`
	Balance int          `json:"balance"`
	Daily   map[Kind]int `json:"daily,omitempty"`
}

// Check rejects kinds the tier does not include and kinds whose daily cap is
// already used up.
func (e Entitlement) Check(kind Kind) error {
	plan := PlanFor(e.Tier)
	if !plan.Kinds[kind] {
		return Errorf(ErrorKindEntitlementDenied, "%s generation requires a higher subscription", kind.RouteName())
	}
	if limit := plan.DailyCaps[kind]; limit > 0 && e.Daily[kind] >= limit {
		return Errorf(ErrorKindEntitlementDenied, "daily %s limit reached", kind.RouteName())
	}
	return nil
}

// ResolvePriority derives the queue class from the tier. The hint may lower
// the class but never raise it.
func ResolvePriority(t Tier, hint Priority) Priority {
	base := PlanFor(t).Priority
	if hint.Valid() && hint.Rank() > base.Rank() {
		return hint
	}
	return base
}
