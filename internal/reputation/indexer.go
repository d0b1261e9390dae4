// Package reputation scores identities from their marketplace history.
// All score math is pure deltas over a single update path; decay happens
// lazily on read and is persisted back.
package reputation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
	"github.com/satwork/backend/internal/store"
)

// Config tunes the indexer.
type Config struct {
	MinScore     int
	MaxScore     int
	InitialScore int
	// DecayRate is the per-month score fraction lost while inactive.
	DecayRate float64
	// SuspensionThreshold is the penalty-point total that triggers a
	// suspension window.
	SuspensionThreshold int
	SuspensionWindow    time.Duration
}

// DefaultConfig returns the production scoring parameters.
func DefaultConfig() Config {
	return Config{
		MinScore:            0,
		MaxScore:            1000,
		InitialScore:        500,
		DecayRate:           0.05,
		SuspensionThreshold: 100,
		SuspensionWindow:    7 * 24 * time.Hour,
	}
}

// TaskOutcome describes how a task ended for scoring purposes.
type TaskOutcome string

const (
	OutcomeCompleted TaskOutcome = "completed"
	OutcomeRefunded  TaskOutcome = "refunded"
	OutcomeDisputed  TaskOutcome = "disputed"
	OutcomeExpired   TaskOutcome = "expired"
)

// Stats is the fleet-wide aggregate served to dashboards.
type Stats struct {
	TotalUsers      int            `json:"total_users"`
	AverageScore    float64        `json:"average_score"`
	TierCounts      map[string]int `json:"tier_counts"`
	TotalSatsMoved  int64          `json:"total_sats_moved"`
	TotalCompleted  int            `json:"total_completed"`
	ActiveSuspended int            `json:"active_suspended"`
}

// Indexer owns reputation records. Writes are serialized so concurrent
// updates to the same pubkey cannot tear a read-modify-write.
type Indexer struct {
	cfg   Config
	repos store.ReputationStore
	log   *slog.Logger

	mu sync.Mutex
}

// NewIndexer returns an indexer over the given store.
func NewIndexer(cfg Config, repos store.ReputationStore, log *slog.Logger) *Indexer {
	if cfg.MaxScore <= cfg.MinScore {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{cfg: cfg, repos: repos, log: log}
}

// Get returns the record for pubkey, creating it at the initial score if
// absent. Inactivity decay is applied before returning and persisted.
func (ix *Indexer) Get(ctx context.Context, pubkey string) (*models.Reputation, error) {
	if pubkey == "" {
		return nil, errs.Validation("pubkey cannot be empty")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.getLocked(ctx, pubkey)
}

func (ix *Indexer) getLocked(ctx context.Context, pubkey string) (*models.Reputation, error) {
	rep, err := ix.repos.GetReputation(ctx, pubkey)
	if err != nil {
		if errs.KindOf(err) != errs.KindNotFound {
			return nil, err
		}
		rep = models.NewReputation(pubkey, ix.cfg.InitialScore)
		if err := ix.repos.PutReputation(ctx, rep); err != nil {
			return nil, err
		}
		return rep, nil
	}

	if decayed := ix.applyDecay(rep); decayed {
		if err := ix.repos.PutReputation(ctx, rep); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// applyDecay reduces the score of a record inactive for more than one whole
// month. Reports whether the record changed.
func (ix *Indexer) applyDecay(rep *models.Reputation) bool {
	months := int(time.Since(rep.LastActiveAt).Hours() / (30 * 24))
	if months < 1 {
		return false
	}
	factor := 1 - ix.cfg.DecayRate*float64(months)
	if factor < 0 {
		factor = 0
	}
	rep.Score = ix.clamp(int(float64(rep.Score) * factor))
	rep.Tier = models.TierForScore(rep.Score)
	// Consume the decayed months so a second pass does not re-apply them.
	rep.LastActiveAt = rep.LastActiveAt.Add(time.Duration(months) * 30 * 24 * time.Hour)
	rep.UpdatedAt = time.Now().UTC()
	return true
}

// RecordTaskOutcome scores the worker for a finished task.
func (ix *Indexer) RecordTaskOutcome(ctx context.Context, pubkey string, outcome TaskOutcome, amountSats int64, onTime bool) (*models.Reputation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rep, err := ix.getLocked(ctx, pubkey)
	if err != nil {
		return nil, err
	}

	var delta, penalty int
	switch outcome {
	case OutcomeCompleted:
		delta = 50
		bonus := int(amountSats / 10_000)
		if bonus > 50 {
			bonus = 50
		}
		delta += bonus
		if onTime {
			delta += 20
		} else {
			delta -= 10
		}
		rep.TasksCompleted++
		rep.TotalSatsEarned += amountSats
	case OutcomeRefunded:
		delta = -25
		penalty = 25
		rep.TasksFailed++
	case OutcomeDisputed:
		delta = -10
		penalty = 10
		rep.DisputesTotal++
	case OutcomeExpired:
		delta = -5
		penalty = 5
		rep.TasksFailed++
	default:
		return nil, errs.Validation("unknown task outcome %q", outcome)
	}

	ix.mutate(rep, delta, penalty)
	ix.award(rep)

	if err := ix.repos.PutReputation(ctx, rep); err != nil {
		return nil, err
	}
	ix.log.Info("reputation updated", "pubkey", pubkey, "outcome", outcome, "delta", delta, "score", rep.Score)
	return rep, nil
}

// RecordTaskCreated scores the employer for publishing a funded task.
func (ix *Indexer) RecordTaskCreated(ctx context.Context, pubkey string, amountSats int64) (*models.Reputation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rep, err := ix.getLocked(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	bonus := int(amountSats / 50_000)
	if bonus > 25 {
		bonus = 25
	}
	rep.TasksCreated++
	ix.mutate(rep, bonus, 0)
	if err := ix.repos.PutReputation(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// RecordTaskClaimed counts a claim and refreshes the worker's activity.
// Claims carry no score delta; completion is what pays.
func (ix *Indexer) RecordTaskClaimed(ctx context.Context, pubkey string) (*models.Reputation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rep, err := ix.getLocked(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	rep.TasksClaimed++
	ix.mutate(rep, 0, 0)
	if err := ix.repos.PutReputation(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// RecordPayment credits the employer side after a settlement.
func (ix *Indexer) RecordPayment(ctx context.Context, pubkey string, amountSats int64) (*models.Reputation, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rep, err := ix.getLocked(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	rep.TasksFunded++
	rep.TotalSatsPaid += amountSats
	ix.mutate(rep, 10, 0)
	if err := ix.repos.PutReputation(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// RecordDisputeResolved applies a win to one party and a loss plus penalty
// to the other.
func (ix *Indexer) RecordDisputeResolved(ctx context.Context, winner, loser string, penalty int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if winner != "" {
		rep, err := ix.getLocked(ctx, winner)
		if err != nil {
			return err
		}
		rep.DisputesTotal++
		rep.DisputesWon++
		ix.mutate(rep, 15, 0)
		if err := ix.repos.PutReputation(ctx, rep); err != nil {
			return err
		}
	}
	if loser != "" {
		rep, err := ix.getLocked(ctx, loser)
		if err != nil {
			return err
		}
		rep.DisputesTotal++
		rep.DisputesLost++
		ix.mutate(rep, -30, penalty)
		if err := ix.repos.PutReputation(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

// DecayAll applies inactivity decay to every stored record and persists the
// changed ones. Reads also decay lazily; the periodic sweep is a catch-up
// pass for records nobody reads.
func (ix *Indexer) DecayAll(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	all, err := ix.repos.ListReputation(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, rep := range all {
		if !ix.applyDecay(rep) {
			continue
		}
		if err := ix.repos.PutReputation(ctx, rep); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// IsSuspended reports whether the identity is inside a suspension window.
func (ix *Indexer) IsSuspended(ctx context.Context, pubkey string) (bool, error) {
	rep, err := ix.Get(ctx, pubkey)
	if err != nil {
		return false, err
	}
	return rep.SuspendedUntil != nil && rep.SuspendedUntil.After(time.Now()), nil
}

// TopUsers returns the n highest-scored records.
func (ix *Indexer) TopUsers(ctx context.Context, n int) ([]*models.Reputation, error) {
	all, err := ix.repos.ListReputation(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// GetStats aggregates the whole index.
func (ix *Indexer) GetStats(ctx context.Context) (*Stats, error) {
	all, err := ix.repos.ListReputation(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TierCounts: make(map[string]int)}
	now := time.Now()
	var scoreSum int64
	for _, rep := range all {
		stats.TotalUsers++
		scoreSum += int64(rep.Score)
		stats.TierCounts[rep.Tier]++
		stats.TotalSatsMoved += rep.TotalSatsPaid
		stats.TotalCompleted += rep.TasksCompleted
		if rep.SuspendedUntil != nil && rep.SuspendedUntil.After(now) {
			stats.ActiveSuspended++
		}
	}
	if stats.TotalUsers > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.TotalUsers)
	}
	return stats, nil
}

// mutate applies a score delta and penalty points, reclamps, recomputes the
// tier, and refreshes activity timestamps.
func (ix *Indexer) mutate(rep *models.Reputation, delta, penalty int) {
	now := time.Now().UTC()
	rep.Score = ix.clamp(rep.Score + delta)
	rep.Tier = models.TierForScore(rep.Score)
	if penalty > 0 {
		rep.PenaltyPoints += penalty
		if rep.PenaltyPoints >= ix.cfg.SuspensionThreshold {
			until := now.Add(ix.cfg.SuspensionWindow)
			rep.SuspendedUntil = &until
			rep.PenaltyPoints = 0
			ix.log.Warn("identity suspended", "pubkey", rep.Pubkey, "until", until)
		}
	}
	rep.LastActiveAt = now
	rep.UpdatedAt = now
}

// award grants milestone badges once.
func (ix *Indexer) award(rep *models.Reputation) {
	milestones := []struct {
		badge string
		ok    bool
	}{
		{"first_task", rep.TasksCompleted >= 1},
		{"ten_tasks", rep.TasksCompleted >= 10},
		{"hundred_tasks", rep.TasksCompleted >= 100},
		{"million_sats", rep.TotalSatsEarned >= 1_000_000},
	}
	for _, m := range milestones {
		if m.ok && !rep.HasBadge(m.badge) {
			rep.Badges = append(rep.Badges, m.badge)
		}
	}
}

func (ix *Indexer) clamp(score int) int {
	if score < ix.cfg.MinScore {
		return ix.cfg.MinScore
	}
	if score > ix.cfg.MaxScore {
		return ix.cfg.MaxScore
	}
	return score
}
