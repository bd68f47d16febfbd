package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/logging"
	"github.com/mhelin/burstline/internal/plan"
)

// Driver executes the fixed stage sequence for work items. Stage order is
// domain-specific and linear; branches skip stages, never reorder them.
type Driver struct {
	Engine engine.Runner
	ARD    conf.ARDSettings
	logger *slog.Logger
}

// NewDriver builds a driver around the given engine and ARD parameters.
func NewDriver(runner engine.Runner, ard conf.ARDSettings) *Driver {
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{Engine: runner, ARD: ard, logger: logger}
}

// FinalArtifact returns the final artifact identity of one product of a
// work item.
func FinalArtifact(item *plan.WorkItem, product ProductKind) *Artifact {
	a := &Artifact{
		BID:        item.BID,
		Product:    product,
		MasterDate: item.MasterDateKey(),
		Dir:        item.OutDir,
	}
	if product == ProductCoherence {
		a.SlaveDate = item.SlaveDateKey()
	}
	return a
}

// itemRun carries the per-item temporary artifact state through the chain.
type itemRun struct {
	d    *Driver
	item *plan.WorkItem

	masterImport string // stem of the master import, "" until created
	calSource    string // stem of the calibrated (or terrain-flattened) product
}

// RunItem drives one work item through the stage chain, skipping every
// product whose completion marker already exists. Re-running an item with
// all final artifacts present performs zero stage invocations. A stage
// failure aborts the remaining chain for this item only.
func (d *Driver) RunItem(ctx context.Context, item *plan.WorkItem) error {
	finalPOL := FinalArtifact(item, ProductPolarimetry)
	finalBS := FinalArtifact(item, ProductBackscatter)
	finalLS := FinalArtifact(item, ProductLSMask)

	needPOL := d.ARD.Polarimetry && !finalPOL.Completed()
	needBS := !finalBS.Completed()
	needLS := d.ARD.LSMask && !finalLS.Completed()
	needCoh := false
	var finalCoh *Artifact
	if item.HasSlave && d.ARD.Coherence {
		finalCoh = FinalArtifact(item, ProductCoherence)
		needCoh = !finalCoh.Completed()
	}

	if !needPOL && !needBS && !needLS && !needCoh {
		d.logger.Debug("all final artifacts present, nothing to do",
			"bid", item.BID, "date", item.MasterDateKey())
		return nil
	}

	if err := os.MkdirAll(item.TempDir, 0o755); err != nil {
		return d.itemErr(item, err)
	}
	if err := os.MkdirAll(item.OutDir, 0o755); err != nil {
		return d.itemErr(item, err)
	}
	if !d.ARD.KeepTemporary {
		defer func() {
			if err := os.RemoveAll(item.TempDir); err != nil {
				d.logger.Warn("temporary cleanup failed",
					"bid", item.BID, "date", item.MasterDateKey(), "error", err)
			}
		}()
	}

	r := &itemRun{d: d, item: item}

	if needPOL {
		if err := r.polarimetryBranch(ctx, finalPOL); err != nil {
			return err
		}
	}

	if needBS || needLS {
		if err := r.ensureCalSource(ctx); err != nil {
			return err
		}
	}
	if needBS {
		if err := r.backscatterBranch(ctx, finalBS); err != nil {
			return err
		}
	}
	if needLS {
		if err := r.lsMaskBranch(ctx, finalLS); err != nil {
			return err
		}
	}
	if r.calSource != "" {
		r.removeTemp(r.calSource)
		r.calSource = ""
	}

	if needCoh {
		if err := r.coherenceBranch(ctx, finalCoh); err != nil {
			return err
		}
	} else if !item.HasSlave {
		// Expected chain termination on the last date of the sequence.
		d.logger.Debug("no slave, coherence branch skipped",
			"bid", item.BID, "date", item.MasterDateKey())
	}

	d.logger.Info("work item completed",
		"bid", item.BID,
		"date", item.MasterDateKey(),
		"slave", item.SlaveDateKey())
	return nil
}

// polarimetryBranch: HA-Alpha decomposition of the master import, geocoded
// and moved to the output directory.
func (r *itemRun) polarimetryBranch(ctx context.Context, final *Artifact) error {
	if err := r.ensureMasterImport(ctx); err != nil {
		return err
	}
	haalpha := r.tempStem(r.item.MasterDateKey() + "_haalpha")
	if err := r.run(ctx, engine.StageHAAlpha, []string{descriptor(r.masterImport)}, haalpha, nil); err != nil {
		return err
	}
	if err := r.geocodeAndMove(ctx, haalpha, final); err != nil {
		return err
	}
	r.removeTemp(haalpha)
	return nil
}

// ensureCalSource imports and calibrates the master, applying terrain
// flattening when RTC output is requested. The result feeds both the
// backscatter and the layover/shadow branches and is kept until both are
// done.
func (r *itemRun) ensureCalSource(ctx context.Context) error {
	if r.calSource != "" {
		return nil
	}
	if err := r.ensureMasterImport(ctx); err != nil {
		return err
	}
	cal := r.tempStem(r.item.MasterDateKey() + "_cal")
	if err := r.run(ctx, engine.StageCalibrate, []string{descriptor(r.masterImport)}, cal, nil); err != nil {
		return err
	}
	r.calSource = cal

	if r.d.ARD.RTC {
		flat := r.tempStem(r.item.MasterDateKey() + "_tf")
		params := map[string]string{"dem": r.d.ARD.DEMName}
		if err := r.run(ctx, engine.StageTerrainFlatten, []string{descriptor(cal)}, flat, params); err != nil {
			return err
		}
		r.removeTemp(cal)
		r.calSource = flat
	}
	return nil
}

// backscatterBranch geocodes the calibrated product and moves it out.
func (r *itemRun) backscatterBranch(ctx context.Context, final *Artifact) error {
	return r.geocodeAndMove(ctx, r.calSource, final)
}

// lsMaskBranch derives the layover/shadow mask from the calibrated product,
// geocodes it and moves it out.
func (r *itemRun) lsMaskBranch(ctx context.Context, final *Artifact) error {
	raw := r.tempStem(r.item.MasterDateKey() + "_lsraw")
	params := map[string]string{
		"dem":        r.d.ARD.DEMName,
		"resolution": formatFloat(r.d.ARD.Resolution),
	}
	if err := r.run(ctx, engine.StageLSMask, []string{descriptor(r.calSource)}, raw, params); err != nil {
		return err
	}
	if err := r.geocodeAndMove(ctx, raw, final); err != nil {
		return err
	}
	r.removeTemp(raw)
	return nil
}

// coherenceBranch imports the slave, coregisters it against the master
// import, estimates coherence, geocodes and moves the result. The master
// import is consumed twice (coregistration and coherence) and is deleted
// only after coherence estimation completes.
func (r *itemRun) coherenceBranch(ctx context.Context, final *Artifact) error {
	if !r.item.HasSlave {
		// An absent slave is authoritative; coherence is never computed
		// against a placeholder.
		return errors.Newf("burst %s date %s terminates its chain, no slave to coregister",
			r.item.BID, r.item.MasterDateKey()).
			Component("pipeline").
			Category(errors.CategoryStage).
			Kind(errors.KindChainTermination).
			Build()
	}
	if err := r.ensureMasterImport(ctx); err != nil {
		return err
	}

	slaveImport := r.tempStem(r.item.SlaveDateKey() + "_import")
	if err := r.run(ctx, engine.StageImport, []string{r.item.SlavePath}, slaveImport, r.importParams(r.item.SlaveBurstNr)); err != nil {
		return err
	}

	coreg := r.tempStem(r.item.MasterDateKey() + "_" + r.item.SlaveDateKey() + "_coreg")
	params := map[string]string{"dem": r.d.ARD.DEMName}
	err := r.run(ctx, engine.StageCoregister,
		[]string{descriptor(r.masterImport), descriptor(slaveImport)}, coreg, params)
	r.removeTemp(slaveImport)
	if err != nil {
		return err
	}

	cohRaw := r.tempStem(r.item.MasterDateKey() + "_" + r.item.SlaveDateKey() + "_cohraw")
	cohParams := map[string]string{
		"polarisations": strings.Join(r.d.ARD.Polarisations, ","),
	}
	err = r.run(ctx, engine.StageCoherence, []string{descriptor(coreg)}, cohRaw, cohParams)
	r.removeTemp(r.masterImport)
	r.masterImport = ""
	r.removeTemp(coreg)
	if err != nil {
		return err
	}

	if err := r.geocodeAndMove(ctx, cohRaw, final); err != nil {
		return err
	}
	r.removeTemp(cohRaw)
	return nil
}

// ensureMasterImport imports the master burst once per item.
func (r *itemRun) ensureMasterImport(ctx context.Context) error {
	if r.masterImport != "" {
		return nil
	}
	stem := r.tempStem(r.item.MasterDateKey() + "_import")
	if err := r.run(ctx, engine.StageImport, []string{r.item.MasterPath}, stem, r.importParams(r.item.MasterBurstNr)); err != nil {
		return err
	}
	r.masterImport = stem
	return nil
}

// geocodeAndMove geocodes the input into the final artifact's temporary
// location and atomically moves descriptor and data directory to the output
// directory, marker last.
func (r *itemRun) geocodeAndMove(ctx context.Context, inputStem string, final *Artifact) error {
	staged := *final
	staged.Dir = r.item.TempDir
	params := map[string]string{
		"dem":        r.d.ARD.DEMName,
		"resolution": formatFloat(r.d.ARD.Resolution),
		"nodata":     formatFloat(r.d.ARD.NoData),
	}
	stem := strings.TrimSuffix(staged.DescriptorPath(), descriptorExt)
	if err := r.run(ctx, engine.StageGeocode, []string{descriptor(inputStem)}, stem, params); err != nil {
		return err
	}
	if _, err := staged.MoveTo(final.Dir); err != nil {
		return r.d.itemErr(r.item, err)
	}
	return nil
}

func (r *itemRun) importParams(burstNr int) map[string]string {
	return map[string]string{
		"burst_nr":      strconv.Itoa(burstNr),
		"polarisations": strings.Join(r.d.ARD.Polarisations, ","),
	}
}

// run invokes one external stage, attaching unit and date context to any
// failure. The engine call blocks; no driver state is locked while waiting.
func (r *itemRun) run(ctx context.Context, stage engine.Stage, inputs []string, output string, params map[string]string) error {
	if err := r.d.Engine.Run(ctx, engine.Request{
		Stage:      stage,
		Inputs:     inputs,
		Output:     output,
		Parameters: params,
	}); err != nil {
		return fmt.Errorf("burst %s date %s: %w", r.item.BID, r.item.MasterDateKey(), err)
	}
	return nil
}

func (r *itemRun) tempStem(name string) string {
	return filepath.Join(r.item.TempDir, name)
}

// removeTemp deletes a temporary descriptor and its data directory.
func (r *itemRun) removeTemp(stem string) {
	if err := os.Remove(descriptor(stem)); err != nil && !os.IsNotExist(err) {
		r.d.logger.Warn("temporary descriptor removal failed", "path", stem, "error", err)
	}
	if err := os.RemoveAll(stem + dataExt); err != nil {
		r.d.logger.Warn("temporary data removal failed", "path", stem, "error", err)
	}
}

func (d *Driver) itemErr(item *plan.WorkItem, err error) error {
	return fmt.Errorf("burst %s date %s: %w", item.BID, item.MasterDateKey(), err)
}

func descriptor(stem string) string {
	return stem + descriptorExt
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
