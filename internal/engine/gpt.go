package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/logging"
)

// stdErrTailLen bounds how much engine stderr is attached to a failure.
const stdErrTailLen = 2048

// graphNames maps stages to the engine's processing graph files.
var graphNames = map[Stage]string{
	StageImport:         "burst_import.xml",
	StageCalibrate:      "calibration.xml",
	StageTerrainFlatten: "terrain_flattening.xml",
	StageGeocode:        "terrain_correction.xml",
	StageHAAlpha:        "ha_alpha.xml",
	StageLSMask:         "ls_mask.xml",
	StageCoregister:     "coregistration.xml",
	StageCoherence:      "coherence.xml",
	StageMTSpeckle:      "mt_speckle.xml",
	StageConvert:        "convert.xml",
}

// GPTRunner invokes the external graph processing tool executable for each
// stage.
type GPTRunner struct {
	Path     string // gpt executable
	GraphDir string // directory holding the processing graph files
	Threads  int    // engine threads per invocation, 0 for engine default
	logger   *slog.Logger
}

// NewGPTRunner builds a runner for the given executable.
func NewGPTRunner(path, graphDir string, threads int) *GPTRunner {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}
	return &GPTRunner{Path: path, GraphDir: graphDir, Threads: threads, logger: logger}
}

// Run executes one stage as an external process. Parameters are passed in
// sorted order so identical requests produce identical command lines.
func (g *GPTRunner) Run(ctx context.Context, req Request) error {
	graph, ok := graphNames[req.Stage]
	if !ok {
		return errors.Newf("unknown stage %q", req.Stage).
			Component("engine").
			Category(errors.CategoryStage).
			Build()
	}

	args := []string{g.GraphDir + "/" + graph}
	if g.Threads > 0 {
		args = append(args, "-q", fmt.Sprint(g.Threads))
	}
	for i, input := range req.Inputs {
		key := "input"
		if i > 0 {
			key = fmt.Sprintf("input%d", i+1)
		}
		args = append(args, fmt.Sprintf("-P%s=%s", key, input))
	}
	args = append(args, fmt.Sprintf("-Poutput=%s", req.Output))

	keys := make([]string, 0, len(req.Parameters))
	for k := range req.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-P%s=%s", k, req.Parameters[k]))
	}

	g.logger.Debug("invoking stage",
		"stage", req.Stage,
		"output", req.Output)

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		tail := stderr.String()
		if len(tail) > stdErrTailLen {
			tail = tail[len(tail)-stdErrTailLen:]
		}
		return errors.Newf("stage %s failed: %v", req.Stage, err).
			Component("engine").
			Category(errors.CategoryStage).
			Kind(errors.KindStageFailure).
			Context("stage", string(req.Stage)).
			Context("stderr_tail", strings.TrimSpace(tail)).
			Context("duration", elapsed.String()).
			Build()
	}

	g.logger.Debug("stage completed",
		"stage", req.Stage,
		"duration", elapsed.String())
	return nil
}
