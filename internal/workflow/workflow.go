// Package workflow wires the processing components into the operations the
// command line exposes: archive fetch, inventory build, batch processing
// and time-series assembly. Commands stay thin; everything testable lives
// here.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/fetch"
	"github.com/mhelin/burstline/internal/geom"
	"github.com/mhelin/burstline/internal/inventory"
	"github.com/mhelin/burstline/internal/logging"
	"github.com/mhelin/burstline/internal/pipeline"
	"github.com/mhelin/burstline/internal/plan"
	"github.com/mhelin/burstline/internal/store"
	"github.com/mhelin/burstline/internal/timeseries"
)

func serviceLogger() *slog.Logger {
	logger := logging.ForService("workflow")
	if logger == nil {
		logger = slog.Default()
	}
	return logger
}

// Searcher is the archive search surface Fetch depends on.
type Searcher interface {
	Search(ctx context.Context, aoiWKT string) ([]fetch.Granule, error)
}

// Fetcher is the download surface Fetch depends on.
type Fetcher interface {
	Fetch(ctx context.Context, g fetch.Granule) (string, error)
}

// FetchResult summarizes one fetch run.
type FetchResult struct {
	Found      int
	Downloaded int
	Failed     int
}

// Fetch searches the archive for scenes over the configured area and
// period, catalogues the results, and downloads every scene without a
// verified local copy. Download failures are counted, not fatal; the next
// run resumes the partial files.
func Fetch(ctx context.Context, settings *conf.Settings, st *store.Store, searcher Searcher, dl Fetcher) (*FetchResult, error) {
	logger := serviceLogger()

	granules, err := searcher.Search(ctx, settings.AOI.WKT)
	if err != nil {
		return nil, err
	}

	scenes := make([]store.Scene, 0, len(granules))
	byID := make(map[string]fetch.Granule, len(granules))
	for _, g := range granules {
		byID[g.SceneID] = g
		scenes = append(scenes, store.Scene{
			SceneID:         g.SceneID,
			Platform:        g.Platform,
			FlightDirection: g.FlightDirection,
			RelativeOrbit:   g.RelativeOrbit,
			StartTime:       g.StartTime,
			StopTime:        g.StopTime,
			FootprintWKT:    g.FootprintWKT,
			URL:             g.URL,
			FileName:        g.FileName,
			SizeBytes:       g.SizeBytes,
			MD5:             g.MD5,
		})
	}
	if err := st.UpsertScenes(scenes); err != nil {
		return nil, err
	}

	pending, err := st.PendingScenes()
	if err != nil {
		return nil, err
	}

	result := &FetchResult{Found: len(granules)}
	concurrency := settings.Download.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	type outcome struct{ failed bool }
	outcomes := make([]outcome, len(pending))
	for i := range pending {
		scene := pending[i]
		granule, ok := byID[scene.SceneID]
		if !ok {
			// Catalogued in an earlier run but outside today's search window.
			granule = fetch.Granule{
				SceneID:  scene.SceneID,
				URL:      scene.URL,
				FileName: scene.FileName,
				MD5:      scene.MD5,
			}
		}
		idx := i
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			path, err := dl.Fetch(gctx, granule)
			if err != nil {
				logger.Error("scene download failed",
					"scene", granule.SceneID, "error", err)
				outcomes[idx].failed = true
				return nil
			}
			return st.MarkDownloaded(granule.SceneID, path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		if o.failed {
			result.Failed++
		} else {
			result.Downloaded++
		}
	}
	logger.Info("fetch complete",
		"found", result.Found,
		"downloaded", result.Downloaded,
		"failed", result.Failed)
	return result, nil
}

// InventoryResult summarizes one inventory build.
type InventoryResult struct {
	Scenes int
	Rows   int
	Bursts int
}

// BuildInventory normalizes every downloaded scene into the burst
// inventory, refines it against the buffered area of interest, and persists
// the result wholesale.
func BuildInventory(settings *conf.Settings, st *store.Store) (*InventoryResult, error) {
	scenes, err := st.DownloadedScenes()
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, errors.Newf("no downloaded scenes to inventory").
			Component("workflow").
			Category(errors.CategoryInventory).
			Build()
	}

	acquisitions := make([]inventory.Acquisition, 0, len(scenes))
	for i := range scenes {
		acq, err := inventory.ParseSceneID(scenes[i].SceneID)
		if err != nil {
			return nil, err
		}
		acquisitions = append(acquisitions, acq)
	}

	reader := &inventory.SAFEReader{
		DownloadRoot: settings.Download.Directory,
		LocalMount:   settings.Download.LocalMount,
	}
	table, err := inventory.BuildInventory(acquisitions, reader)
	if err != nil {
		return nil, err
	}

	opts := inventory.RefineOptions{
		Buffer:      settings.AOI.Buffer,
		MinCoverage: settings.ARD.MinCoverage,
	}
	if settings.AOI.WKT != "" {
		aoi, err := geom.ParseWKTPolygon(settings.AOI.WKT)
		if err != nil {
			return nil, errors.Newf("configured AOI unparseable: %v", err).
				Component("workflow").
				Category(errors.CategoryConfiguration).
				Build()
		}
		opts.AOI = aoi
	}
	refined := inventory.Refine(table, opts)
	if len(table.Rows) > 0 && len(refined.Rows) == 0 {
		return nil, errors.Newf("refinement dropped every burst observation; "+
			"check the AOI and coverage settings").
			Component("workflow").
			Category(errors.CategoryInventory).
			Kind(errors.KindInsufficientCoverage).
			Build()
	}

	if err := st.ReplaceInventory(refined); err != nil {
		return nil, err
	}
	return &InventoryResult{
		Scenes: len(scenes),
		Rows:   len(refined.Rows),
		Bursts: len(refined.BIDs()),
	}, nil
}

// Process builds the processing plan from the persisted inventory and runs
// it. With dryRun set the plan is built and described but nothing executes.
func Process(ctx context.Context, settings *conf.Settings, st *store.Store, runner engine.Runner, dryRun bool) (*pipeline.Summary, error) {
	logger := serviceLogger()

	table, err := st.LoadInventory()
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, errors.Newf("persisted inventory is empty, run inventory first").
			Component("workflow").
			Category(errors.CategoryPlan).
			Build()
	}

	dirs := plan.Dirs{
		ProcessingRoot: settings.Directories.ProcessingRoot,
		OutputRoot:     settings.Directories.OutputRoot,
	}
	resolver := plan.NewCachedResolver(&plan.FSResolver{
		DownloadRoot: settings.Download.Directory,
		LocalMount:   settings.Download.LocalMount,
	})
	p, err := plan.Build(table, dirs, resolver)
	if err != nil {
		return nil, err
	}

	if dryRun {
		for i := range p.Items {
			item := &p.Items[i]
			slave := "terminal"
			if item.HasSlave {
				slave = item.SlaveDateKey()
			}
			fmt.Printf("%s %s -> %s\n", item.BID, item.MasterDateKey(), slave)
		}
		return &pipeline.Summary{RunID: p.RunID}, nil
	}

	driver := pipeline.NewDriver(runner, settings.ARD)
	summary, err := driver.RunPlan(ctx, p, dirs)
	if err != nil {
		return nil, err
	}
	logger.Info("processing complete",
		"run_id", summary.RunID,
		"completed", summary.Completed,
		"failed", summary.Failed)
	return summary, nil
}

// AssembleResult summarizes one assembly run.
type AssembleResult struct {
	Bursts int
	Stacks int
}

// Assemble builds the time-series stacks of every burst in the persisted
// inventory from whatever completed products exist on disk.
func Assemble(ctx context.Context, settings *conf.Settings, st *store.Store, runner engine.Runner) (*AssembleResult, error) {
	table, err := st.LoadInventory()
	if err != nil {
		return nil, err
	}

	assembler := timeseries.NewAssembler(runner, settings.ARD)
	result := &AssembleResult{}
	for _, bid := range table.BIDs() {
		stacks, err := assembler.AssembleBurst(ctx, settings.Directories.OutputRoot, bid)
		if err != nil {
			return nil, err
		}
		result.Bursts++
		result.Stacks += len(stacks)
	}
	return result, nil
}
