// Package jobs holds the background sweeps that move overdue tasks and
// stale funding to their expiry states. They run on River so a crashed
// sweep is retried instead of silently skipped.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

type ExpireTasksArgs struct{}

func (ExpireTasksArgs) Kind() string { return "expire_tasks" }

type ExpireFundingArgs struct{}

func (ExpireFundingArgs) Kind() string { return "expire_funding" }

type DecayReputationArgs struct{}

func (DecayReputationArgs) Kind() string { return "decay_reputation" }

// Sweeper defines the contract the workers need to run expiry passes.
type Sweeper interface {
	ExpireTasks(ctx context.Context, now time.Time) (int, error)
	ExpireFunding(ctx context.Context, now time.Time) (int, error)
}

// Decayer applies inactivity decay across all reputation records.
type Decayer interface {
	DecayAll(ctx context.Context) (int, error)
}

type ExpireTasksWorker struct {
	river.WorkerDefaults[ExpireTasksArgs]
	sweeper Sweeper
	log     *slog.Logger
}

func NewExpireTasksWorker(s Sweeper, log *slog.Logger) *ExpireTasksWorker {
	return &ExpireTasksWorker{sweeper: s, log: log}
}

func (w *ExpireTasksWorker) Work(ctx context.Context, _ *river.Job[ExpireTasksArgs]) error {
	n, err := w.sweeper.ExpireTasks(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expire tasks sweep: %w", err)
	}
	if n > 0 {
		w.log.Info("expired overdue tasks", "count", n)
	}
	return nil
}

type ExpireFundingWorker struct {
	river.WorkerDefaults[ExpireFundingArgs]
	sweeper Sweeper
	log     *slog.Logger
}

func NewExpireFundingWorker(s Sweeper, log *slog.Logger) *ExpireFundingWorker {
	return &ExpireFundingWorker{sweeper: s, log: log}
}

func (w *ExpireFundingWorker) Work(ctx context.Context, _ *river.Job[ExpireFundingArgs]) error {
	n, err := w.sweeper.ExpireFunding(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expire funding sweep: %w", err)
	}
	if n > 0 {
		w.log.Info("expired stale funding", "count", n)
	}
	return nil
}

type DecayReputationWorker struct {
	river.WorkerDefaults[DecayReputationArgs]
	decayer Decayer
	log     *slog.Logger
}

func NewDecayReputationWorker(d Decayer, log *slog.Logger) *DecayReputationWorker {
	return &DecayReputationWorker{decayer: d, log: log}
}

func (w *DecayReputationWorker) Work(ctx context.Context, _ *river.Job[DecayReputationArgs]) error {
	n, err := w.decayer.DecayAll(ctx)
	if err != nil {
		return fmt.Errorf("reputation decay sweep: %w", err)
	}
	if n > 0 {
		w.log.Info("decayed idle reputation records", "count", n)
	}
	return nil
}

// PeriodicJobs returns the recurring sweep schedule. Funding expiry runs
// more often than task expiry because invoice TTLs are short; decay only
// moves on month boundaries so daily is plenty.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpireFundingArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(5*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpireTasksArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return DecayReputationArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}
