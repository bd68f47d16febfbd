package timeseries

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/pipeline"
)

// fakeEngine records requests and fabricates stage outputs.
type fakeEngine struct {
	mu    sync.Mutex
	calls []engine.Request
}

func (f *fakeEngine) Run(ctx context.Context, req engine.Request) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	ext := ".dim"
	if req.Stage == engine.StageConvert {
		ext = ".tif"
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(req.Output+ext, []byte("raster\n"), 0o644)
}

func (f *fakeEngine) stageCalls(stage engine.Stage) []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.Request
	for _, c := range f.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func assemblerARD() conf.ARDSettings {
	return conf.ARDSettings{
		Resolution:    20,
		Polarisations: []string{"VV", "VH"},
		Polarimetry:   true,
		Coherence:     true,
		NoData:        0,
	}
}

// writeCompleted stages a completed final artifact: descriptor, data
// directory and completion marker.
func writeCompleted(t *testing.T, a pipeline.Artifact) {
	t.Helper()
	require.NoError(t, os.MkdirAll(a.Dir, 0o755))
	require.NoError(t, os.WriteFile(a.DescriptorPath(), []byte("descriptor\n"), 0o644))
	require.NoError(t, os.MkdirAll(a.DataPath(), 0o755))
	require.NoError(t, os.WriteFile(a.MarkerPath(), []byte("done\n"), 0o644))
}

// burstFixture lays out a completed three-date burst output tree.
func burstFixture(t *testing.T) (outputRoot, bid string) {
	t.Helper()
	outputRoot = t.TempDir()
	bid = "A117_IW1_100"
	dates := []string{"20200101", "20200113", "20200125"}
	for i, d := range dates {
		dir := filepath.Join(outputRoot, bid, d)
		writeCompleted(t, pipeline.Artifact{Product: pipeline.ProductBackscatter, MasterDate: d, Dir: dir})
		writeCompleted(t, pipeline.Artifact{Product: pipeline.ProductPolarimetry, MasterDate: d, Dir: dir})
		if i+1 < len(dates) {
			writeCompleted(t, pipeline.Artifact{
				Product:    pipeline.ProductCoherence,
				MasterDate: d,
				SlaveDate:  dates[i+1],
				Dir:        dir,
			})
		}
	}
	return outputRoot, bid
}

func TestAssembleBurstStacksAndLayerCounts(t *testing.T) {
	outputRoot, bid := burstFixture(t)
	a := NewAssembler(&fakeEngine{}, assemblerARD())

	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	// bs x {VV,VH}, coh x {VV,VH}, pol x {Alpha,Entropy,Anisotropy}
	require.Len(t, stacks, 7)

	byKey := make(map[string]Stack)
	for _, s := range stacks {
		byKey[string(s.Product)+"."+s.Band] = s
	}

	assert.Len(t, byKey["bs.VV"].Layers, 3)
	assert.Len(t, byKey["bs.VH"].Layers, 3)
	assert.Len(t, byKey["coh.VV"].Layers, 2)
	assert.Len(t, byKey["pol.Alpha"].Layers, 3)
}

func TestAssembleBurstOrdersLayersChronologically(t *testing.T) {
	outputRoot, bid := burstFixture(t)
	a := NewAssembler(&fakeEngine{}, assemblerARD())

	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	for _, s := range stacks {
		prev := ""
		for i, layer := range s.Layers {
			assert.Equal(t, i+1, layer.Index, "indices are a 1-based running sequence")
			assert.Greater(t, layer.Date, prev, "layers ascend by date")
			prev = layer.Date
		}
	}
}

func TestAssembleBurstIsDeterministic(t *testing.T) {
	outputRoot, bid := burstFixture(t)

	first, err := NewAssembler(&fakeEngine{}, assemblerARD()).AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)
	second, err := NewAssembler(&fakeEngine{}, assemblerARD()).AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-assembly must produce identical index-to-date mappings")
}

func TestAssembleBurstSkipsSingleFrame(t *testing.T) {
	outputRoot := t.TempDir()
	bid := "A117_IW1_100"
	dir := filepath.Join(outputRoot, bid, "20200101")
	writeCompleted(t, pipeline.Artifact{Product: pipeline.ProductBackscatter, MasterDate: "20200101", Dir: dir})

	a := NewAssembler(&fakeEngine{}, assemblerARD())
	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)
	assert.Empty(t, stacks, "a time series of one frame is not assembled")
}

func TestAssembleBurstIgnoresUnmarkedArtifacts(t *testing.T) {
	outputRoot, bid := burstFixture(t)

	// A half-moved artifact from a crashed run: descriptor, no marker.
	dir := filepath.Join(outputRoot, bid, "20200206")
	art := pipeline.Artifact{Product: pipeline.ProductBackscatter, MasterDate: "20200206", Dir: dir}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(art.DescriptorPath(), []byte("stale\n"), 0o644))

	a := NewAssembler(&fakeEngine{}, assemblerARD())
	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	for _, s := range stacks {
		if s.Product == pipeline.ProductBackscatter {
			assert.Len(t, s.Layers, 3, "unmarked artifact must not join the stack")
		}
	}
}

func TestAssembleBurstCoherenceLayerNaming(t *testing.T) {
	outputRoot, bid := burstFixture(t)
	a := NewAssembler(&fakeEngine{}, assemblerARD())

	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	for _, s := range stacks {
		if s.Product != pipeline.ProductCoherence || s.Band != "VV" {
			continue
		}
		require.Len(t, s.Layers, 2)
		assert.Equal(t, "001.20200101_20200113.coh.VV.tif", filepath.Base(s.Layers[0].ExportPath))
		assert.Equal(t, "002.20200113_20200125.coh.VV.tif", filepath.Base(s.Layers[1].ExportPath))
		assert.FileExists(t, s.Layers[0].ExportPath)
	}
}

func TestAssembleBurstMTFilterRunsOncePerStack(t *testing.T) {
	outputRoot, bid := burstFixture(t)
	eng := &fakeEngine{}
	ard := assemblerARD()
	ard.MTFilter = true
	a := NewAssembler(eng, ard)

	_, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	// One multi-temporal filter pass per backscatter band, each spanning
	// the whole stack.
	mt := eng.stageCalls(engine.StageMTSpeckle)
	require.Len(t, mt, 2)
	filteredByBand := make(map[string]string)
	for _, call := range mt {
		assert.Len(t, call.Inputs, 3, "filter consumes the full stack at once")
		filteredByBand[call.Parameters["band"]] = call.Output + ".dim"
	}

	// Backscatter exports must read from the filtered stack, not the raw
	// per-date artifacts, selecting their dated band within it.
	converts := eng.stageCalls(engine.StageConvert)
	filteredExports := 0
	for _, call := range converts {
		if !isBackscatterExport(call.Output) {
			continue
		}
		want, ok := filteredByBand[call.Parameters["band"]]
		require.True(t, ok, "export band %q has no filter pass", call.Parameters["band"])
		require.Len(t, call.Inputs, 1)
		assert.Equal(t, want, call.Inputs[0])
		assert.NotEmpty(t, call.Parameters["date"], "layer selection within the filtered stack")
		filteredExports++
	}
	assert.Equal(t, 6, filteredExports, "three dates per backscatter band")
}

func isBackscatterExport(output string) bool {
	return strings.Contains(filepath.Base(output), "."+string(pipeline.ProductBackscatter)+".")
}

func TestAssembleBurstWritesVRT(t *testing.T) {
	outputRoot, bid := burstFixture(t)
	a := NewAssembler(&fakeEngine{}, assemblerARD())

	stacks, err := a.AssembleBurst(context.Background(), outputRoot, bid)
	require.NoError(t, err)

	for _, s := range stacks {
		require.NotEmpty(t, s.VRTPath)
		data, err := os.ReadFile(s.VRTPath)
		require.NoError(t, err)

		var ds vrtDataset
		require.NoError(t, xml.Unmarshal(data, &ds))
		require.Len(t, ds.Bands, len(s.Layers), "one independent band per layer")
		for i, band := range ds.Bands {
			assert.Equal(t, i+1, band.Band)
			assert.Equal(t, filepath.Base(s.Layers[i].ExportPath), band.Source.Filename.Path)
			assert.Equal(t, 1, band.Source.Filename.RelativeToVRT)
			assert.Equal(t, assemblerARD().NoData, band.NoDataValue)
		}
	}
}
