// Package timeseries assembles per-date pipeline products into
// chronologically indexed stacks: one multi-layer stack per (burst, product,
// band), exported layer by layer with a running index plus a virtual mosaic
// referencing every layer.
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/logging"
	"github.com/mhelin/burstline/internal/pipeline"
)

// Layer is one dated slice of a stack.
type Layer struct {
	Index      int    // 1-based chronological index
	Date       string // master date, YYYYMMDD
	SlaveDate  string // coherence layers only
	Descriptor string // source artifact descriptor
	ExportPath string // exported single-band raster
}

// Stack is one assembled time series.
type Stack struct {
	BID     string
	Product pipeline.ProductKind
	Band    string // polarisation channel, or decomposition band name
	Layers  []Layer
	VRTPath string
}

// timeseriesDirName is the per-burst directory assembled stacks live in.
const timeseriesDirName = "Timeseries"

// polarimetryBands are the decomposition bands stacked for the polarimetric
// product; backscatter and coherence stack per polarisation channel instead.
var polarimetryBands = []string{"Alpha", "Entropy", "Anisotropy"}

// Assembler builds time-series stacks from completed pipeline outputs.
type Assembler struct {
	Engine engine.Runner
	ARD    conf.ARDSettings
	logger *slog.Logger
}

// NewAssembler builds an assembler around the given engine and parameters.
func NewAssembler(runner engine.Runner, ard conf.ARDSettings) *Assembler {
	logger := logging.ForService("timeseries")
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{Engine: runner, ARD: ard, logger: logger}
}

// AssembleBurst assembles every product/band stack of one burst from the
// completed artifacts under its output directory. A product with fewer than
// two dated artifacts is left as a single frame and produces no stack.
// Re-running with identical inputs yields identical index-to-date mappings.
func (a *Assembler) AssembleBurst(ctx context.Context, outputRoot, bid string) ([]Stack, error) {
	burstDir := filepath.Join(outputRoot, bid)
	artifacts, err := collectCompleted(burstDir)
	if err != nil {
		return nil, err
	}

	var stacks []Stack
	for _, product := range a.enabledProducts() {
		group := artifacts[product]
		if len(group) < 2 {
			if len(group) == 1 {
				a.logger.Info("single frame, no time series assembled",
					"bid", bid, "product", string(product))
			}
			continue
		}
		sortChronological(group)

		for _, band := range a.bandsFor(product) {
			stack, err := a.buildStack(ctx, burstDir, bid, product, band, group)
			if err != nil {
				return nil, err
			}
			stacks = append(stacks, stack)
		}
	}
	return stacks, nil
}

// enabledProducts returns the product kinds assembled for this run.
func (a *Assembler) enabledProducts() []pipeline.ProductKind {
	products := []pipeline.ProductKind{pipeline.ProductBackscatter}
	if a.ARD.Coherence {
		products = append(products, pipeline.ProductCoherence)
	}
	if a.ARD.Polarimetry {
		products = append(products, pipeline.ProductPolarimetry)
	}
	return products
}

func (a *Assembler) bandsFor(product pipeline.ProductKind) []string {
	if product == pipeline.ProductPolarimetry {
		return polarimetryBands
	}
	return a.ARD.Polarisations
}

// buildStack runs the optional multi-temporal filter over the whole stack,
// exports each layer as an independently addressable single-band file and
// writes the virtual mosaic.
func (a *Assembler) buildStack(ctx context.Context, burstDir, bid string, product pipeline.ProductKind, band string, group []pipeline.Artifact) (Stack, error) {
	tsDir := filepath.Join(burstDir, timeseriesDirName)
	if err := os.MkdirAll(tsDir, 0o755); err != nil {
		return Stack{}, errors.New(err).
			Component("timeseries").
			Category(errors.CategoryFileIO).
			Build()
	}

	stack := Stack{BID: bid, Product: product, Band: band}

	descriptors := make([]string, len(group))
	for i := range group {
		descriptors[i] = group[i].DescriptorPath()
	}

	// Multi-temporal speckle filtering runs once across the whole stack,
	// before any per-layer export, so every layer sees the same statistics.
	// Exports then read the layer's dated band out of the filtered stack
	// instead of the raw per-date artifacts.
	filteredDescriptor := ""
	if a.ARD.MTFilter && product == pipeline.ProductBackscatter {
		filtered := filepath.Join(tsDir, fmt.Sprintf("mt_%s_%s", product, band))
		if err := a.Engine.Run(ctx, engine.Request{
			Stage:  engine.StageMTSpeckle,
			Inputs: descriptors,
			Output: filtered,
			Parameters: map[string]string{
				"band": band,
			},
		}); err != nil {
			return Stack{}, fmt.Errorf("burst %s %s.%s: %w", bid, product, band, err)
		}
		filteredDescriptor = filtered + ".dim"
	}

	for i := range group {
		art := &group[i]
		layer := Layer{
			Index:      i + 1,
			Date:       art.MasterDate,
			SlaveDate:  art.SlaveDate,
			Descriptor: art.DescriptorPath(),
			ExportPath: filepath.Join(tsDir, layerFileName(i+1, art, band)),
		}
		source := layer.Descriptor
		if filteredDescriptor != "" {
			source = filteredDescriptor
		}
		if err := a.exportLayer(ctx, &layer, product, band, source); err != nil {
			return Stack{}, fmt.Errorf("burst %s %s.%s: %w", bid, product, band, err)
		}
		stack.Layers = append(stack.Layers, layer)
	}

	vrtPath := filepath.Join(tsDir, fmt.Sprintf("Timeseries.%s.%s.vrt", product, band))
	if err := writeVRT(vrtPath, &stack, a.ARD.NoData); err != nil {
		return Stack{}, err
	}
	stack.VRTPath = vrtPath

	a.logger.Info("time series assembled",
		"bid", bid,
		"product", string(product),
		"band", band,
		"layers", len(stack.Layers))
	return stack, nil
}

// exportLayer delegates the masked single-band export to the engine's
// convert stage. When source is a filtered stack rather than the layer's own
// artifact, the layer date selects the matching band within it.
func (a *Assembler) exportLayer(ctx context.Context, layer *Layer, product pipeline.ProductKind, band, source string) error {
	params := map[string]string{
		"band":   band,
		"nodata": fmt.Sprintf("%g", a.ARD.NoData),
	}
	if source != layer.Descriptor {
		params["date"] = layer.Date
	}
	if a.ARD.ToDB && product == pipeline.ProductBackscatter {
		params["transform"] = "db"
	}
	return a.Engine.Run(ctx, engine.Request{
		Stage:      engine.StageConvert,
		Inputs:     []string{source},
		Output:     strings.TrimSuffix(layer.ExportPath, filepath.Ext(layer.ExportPath)),
		Parameters: params,
	})
}

// layerFileName names an exported layer by running index and reformatted
// date(s). Three index digits keep lexical and chronological order aligned
// for any series a single mission lifetime can produce.
func layerFileName(index int, art *pipeline.Artifact, band string) string {
	if art.Product == pipeline.ProductCoherence {
		return fmt.Sprintf("%03d.%s_%s.%s.%s.tif", index, art.MasterDate, art.SlaveDate, art.Product, band)
	}
	return fmt.Sprintf("%03d.%s.%s.%s.tif", index, art.MasterDate, art.Product, band)
}

// collectCompleted walks the per-date directories of one burst and groups
// the completed final artifacts by product kind. Artifacts without a
// completion marker are ignored; they belong to unfinished work items.
func collectCompleted(burstDir string) (map[pipeline.ProductKind][]pipeline.Artifact, error) {
	entries, err := os.ReadDir(burstDir)
	if os.IsNotExist(err) {
		// Burst not processed yet; nothing to assemble.
		return map[pipeline.ProductKind][]pipeline.Artifact{}, nil
	}
	if err != nil {
		return nil, errors.Newf("burst output directory unreadable: %v", err).
			Component("timeseries").
			Category(errors.CategoryTimeseries).
			Build()
	}

	artifacts := make(map[pipeline.ProductKind][]pipeline.Artifact)
	for _, dateDir := range entries {
		if !dateDir.IsDir() || dateDir.Name() == timeseriesDirName {
			continue
		}
		files, err := os.ReadDir(filepath.Join(burstDir, dateDir.Name()))
		if err != nil {
			return nil, errors.Newf("date directory unreadable: %v", err).
				Component("timeseries").
				Category(errors.CategoryTimeseries).
				Build()
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".dim") {
				continue
			}
			art, err := pipeline.ParseArtifactName(filepath.Join(burstDir, dateDir.Name(), f.Name()))
			if err != nil {
				continue // foreign file, not a pipeline artifact
			}
			if !art.Completed() {
				continue
			}
			artifacts[art.Product] = append(artifacts[art.Product], art)
		}
	}
	return artifacts, nil
}

// sortChronological orders artifacts ascending by master date (coherence
// pairs sort by master date), ties broken by slave date for a total order.
func sortChronological(group []pipeline.Artifact) {
	sort.Slice(group, func(i, j int) bool {
		if group[i].MasterDate != group[j].MasterDate {
			return group[i].MasterDate < group[j].MasterDate
		}
		return group[i].SlaveDate < group[j].SlaveDate
	})
}
