package pipeline

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/plan"
)

// Outcome records the result of one work item.
type Outcome struct {
	BID  string
	Date string
	Err  error // nil on success
}

// Summary aggregates the outcomes of one plan run.
type Summary struct {
	RunID     string
	Completed int
	Failed    int
	Outcomes  []Outcome
}

// RunPlan executes the plan. Bursts are independent and run in parallel up
// to the configured concurrency; within one burst the work items execute
// strictly sequentially in chain order. A failed item is recorded and does
// not halt the batch.
func (d *Driver) RunPlan(ctx context.Context, p *plan.Plan, dirs plan.Dirs) (*Summary, error) {
	if err := d.preflight(dirs.ProcessingRoot); err != nil {
		return nil, err
	}

	concurrency := d.ARD.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	// Group items per burst, preserving chain order.
	order := make([]string, 0)
	perBID := make(map[string][]plan.WorkItem)
	for _, item := range p.Items {
		if _, ok := perBID[item.BID]; !ok {
			order = append(order, item.BID)
		}
		perBID[item.BID] = append(perBID[item.BID], item)
	}

	var mu sync.Mutex
	summary := &Summary{RunID: p.RunID}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, bid := range order {
		items := perBID[bid]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			for i := range items {
				item := items[i]
				err := d.RunItem(gctx, &item)
				if err != nil {
					d.logger.Error("work item failed",
						"bid", item.BID,
						"date", item.MasterDateKey(),
						"error", err)
				}
				mu.Lock()
				summary.Outcomes = append(summary.Outcomes, Outcome{
					BID:  item.BID,
					Date: item.MasterDateKey(),
					Err:  err,
				})
				mu.Unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic report order regardless of scheduling.
	sort.Slice(summary.Outcomes, func(i, j int) bool {
		if summary.Outcomes[i].BID != summary.Outcomes[j].BID {
			return summary.Outcomes[i].BID < summary.Outcomes[j].BID
		}
		return summary.Outcomes[i].Date < summary.Outcomes[j].Date
	})
	for _, o := range summary.Outcomes {
		if o.Err != nil {
			summary.Failed++
		} else {
			summary.Completed++
		}
	}

	d.logger.Info("plan run finished",
		"run_id", p.RunID,
		"completed", summary.Completed,
		"failed", summary.Failed)
	return summary, nil
}

// preflight verifies the processing volume has enough free space before any
// long-running engine work starts.
func (d *Driver) preflight(processingRoot string) error {
	if d.ARD.MinFreeSpaceGB <= 0 {
		return nil
	}
	if err := os.MkdirAll(processingRoot, 0o755); err != nil {
		return errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Build()
	}
	usage, err := disk.Usage(processingRoot)
	if err != nil {
		d.logger.Warn("free space check unavailable", "path", processingRoot, "error", err)
		return nil
	}
	minFree := uint64(d.ARD.MinFreeSpaceGB) * 1024 * 1024 * 1024
	if usage.Free < minFree {
		return errors.Newf("insufficient free space on %s: %d GB free, %d GB required",
			processingRoot, usage.Free/(1024*1024*1024), d.ARD.MinFreeSpaceGB).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
