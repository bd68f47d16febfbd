// Package engine is the boundary to the external radar processing engine.
// The pipeline treats every stage as an opaque call: named stage, input
// descriptor(s), output path, parameters. Implementations must be
// deterministic given identical inputs and parameters.
package engine

import "context"

// Stage names one external processing operation.
type Stage string

const (
	StageImport         Stage = "import"          // burst import from the source scene
	StageCalibrate      Stage = "calibrate"       // radiometric calibration
	StageTerrainFlatten Stage = "terrain-flatten" // radiometric terrain flattening (RTC)
	StageGeocode        Stage = "geocode"         // terrain correction onto a map projection
	StageHAAlpha        Stage = "ha-alpha"        // H-A-Alpha polarimetric decomposition
	StageLSMask         Stage = "ls-mask"         // layover/shadow mask generation
	StageCoregister     Stage = "coregister"      // master/slave coregistration
	StageCoherence      Stage = "coherence"       // repeat-pass coherence estimation
	StageMTSpeckle      Stage = "mt-speckle"      // multi-temporal speckle filtering of a stack
	StageConvert        Stage = "convert"         // masked raster export with value transform
)

// Request describes one stage invocation.
type Request struct {
	Stage      Stage
	Inputs     []string          // input descriptor file(s), order is stage-specific
	Output     string            // output descriptor path, without extension
	Parameters map[string]string // stage parameters
}

// Runner invokes external processing stages. Calls are blocking and
// long-running; callers must not hold locks across Run.
type Runner interface {
	Run(ctx context.Context, req Request) error
}
