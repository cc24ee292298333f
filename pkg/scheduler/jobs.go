package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/flow"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
	"github.com/kwonlabs/kwon-backplane/pkg/txaudit"
)

// NewIngestJob polls the transfer source on every tick.
func NewIngestJob(ing *txaudit.Ingestor, interval time.Duration, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		Name:      "ingest",
		Interval:  interval,
		Immediate: true,
		Run: func(ctx context.Context) error {
			res, err := ing.RunCycle(ctx)
			if err != nil {
				return err
			}
			if res.Inserted > 0 || res.Skipped > 0 {
				logger.Info("ingest cycle",
					"source", res.Source, "inserted", res.Inserted,
					"skipped", res.Skipped, "last_block", res.LastBlock)
			}
			return nil
		},
	}
}

// NewMerkleJob batches pending events once enough have accumulated.
// mode is the selection order, oldest or latest.
func NewMerkleJob(batcher *txaudit.Batcher, minPending, batchLimit int, mode string, interval time.Duration, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		Name:     "merkle",
		Interval: interval,
		Run: func(ctx context.Context) error {
			res, err := batcher.ProcessOnce(ctx, minPending, batchLimit, mode)
			if err != nil {
				return err
			}
			if res.Batch != nil {
				logger.Info("merkle batch committed",
					"batch_id", res.Batch.BatchID, "events", res.Batch.Count)
			}
			return nil
		},
	}
}

// MonthlyRunner starts a compliance workflow for a period.
type MonthlyRunner interface {
	Run(ctx context.Context, period string) (*flow.RunStatus, error)
}

// NewMonthlyKickoffJob checks once per tick whether the previous
// calendar month already has a review task and starts a run when it
// does not. A daily interval gives at-most-one kickoff per month while
// tolerating restarts.
func NewMonthlyKickoffJob(runner MonthlyRunner, reviews *store.ReviewStore, interval time.Duration, clock func() time.Time, logger *slog.Logger) *Job {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		Name:     "monthly_kickoff",
		Interval: interval,
		Run: func(ctx context.Context) error {
			period := PreviousPeriod(clock().UTC())
			tasks, err := reviews.TasksByPeriod(ctx, period)
			if err != nil {
				return err
			}
			if len(tasks) > 0 {
				return nil
			}
			status, err := runner.Run(ctx, period)
			if err != nil {
				return err
			}
			logger.Info("monthly workflow started",
				"period", period, "thread_id", status.ThreadID, "status", status.Status)
			return nil
		},
	}
}

// PreviousPeriod formats the month before t as YYYY-MM.
func PreviousPeriod(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format("2006-01")
}
