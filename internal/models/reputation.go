package models

import "time"

// Reputation tiers, non-overlapping score bands.
const (
	TierNew          = "new"
	TierBeginner     = "beginner"
	TierIntermediate = "intermediate"
	TierAdvanced     = "advanced"
	TierTrusted      = "trusted"
	TierElite        = "elite"
)

// Reputation is one scoring record per identity. Scores live in the
// indexer's configured [min,max]; the tier is recomputed from the score on
// every mutation.
type Reputation struct {
	Pubkey string `json:"pubkey"`

	Score int    `json:"score"`
	Tier  string `json:"tier"`

	// Employer stats.
	TasksCreated   int   `json:"tasks_created"`
	TasksFunded    int   `json:"tasks_funded"`
	TasksCancelled int   `json:"tasks_cancelled"`
	TotalSatsPaid  int64 `json:"total_sats_paid"`

	// Worker stats.
	TasksClaimed    int   `json:"tasks_claimed"`
	TasksCompleted  int   `json:"tasks_completed"`
	TasksFailed     int   `json:"tasks_failed"`
	TotalSatsEarned int64 `json:"total_sats_earned"`

	DisputesTotal int `json:"disputes_total"`
	DisputesWon   int `json:"disputes_won"`
	DisputesLost  int `json:"disputes_lost"`

	Badges []string `json:"badges,omitempty"`

	PenaltyPoints  int        `json:"penalty_points"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`

	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewReputation returns a fresh record at the given starting score.
func NewReputation(pubkey string, initialScore int) *Reputation {
	now := time.Now().UTC()
	r := &Reputation{
		Pubkey:       pubkey,
		Score:        initialScore,
		FirstSeenAt:  now,
		LastActiveAt: now,
		UpdatedAt:    now,
	}
	r.Tier = TierForScore(r.Score)
	return r
}

// TierForScore maps a score to its band. Pure and order-independent: only
// the final score matters.
func TierForScore(score int) string {
	switch {
	case score < 100:
		return TierNew
	case score < 300:
		return TierBeginner
	case score < 600:
		return TierIntermediate
	case score < 800:
		return TierAdvanced
	case score < 950:
		return TierTrusted
	default:
		return TierElite
	}
}

// HasBadge reports whether the badge has already been awarded.
func (r *Reputation) HasBadge(badge string) bool {
	for _, b := range r.Badges {
		if b == badge {
			return true
		}
	}
	return false
}
