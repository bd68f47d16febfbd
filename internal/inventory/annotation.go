package inventory

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/geom"
	"gonum.org/v1/gonum/spatial/r2"
)

// AnnotationReader extracts per-burst metadata for one acquisition.
type AnnotationReader interface {
	SceneBursts(acq *Acquisition) ([]Row, error)
}

// SAFEReader reads burst annotation from an extracted SAFE-style scene
// directory under the download root, falling back to an optional read-only
// archive mount.
type SAFEReader struct {
	DownloadRoot string
	LocalMount   string
}

// annotationProduct mirrors the subset of the sub-swath annotation XML the
// inventory needs.
type annotationProduct struct {
	XMLName     xml.Name `xml:"product"`
	SwathTiming struct {
		LinesPerBurst int `xml:"linesPerBurst"`
		BurstList     struct {
			Bursts []struct {
				AzimuthAnxTime float64 `xml:"azimuthAnxTime"`
			} `xml:"burst"`
		} `xml:"burstList"`
	} `xml:"swathTiming"`
	GeolocationGrid struct {
		PointList struct {
			Points []gridPoint `xml:"geolocationGridPoint"`
		} `xml:"geolocationGridPointList"`
	} `xml:"geolocationGrid"`
}

type gridPoint struct {
	Line      int     `xml:"line"`
	Pixel     int     `xml:"pixel"`
	Latitude  float64 `xml:"latitude"`
	Longitude float64 `xml:"longitude"`
}

// SceneBursts reads the annotation files of one scene and returns one row
// per (sub-swath, burst). A scene that is not on disk yet yields a
// retrieval-required error; downstream stages must not run on a partial
// inventory.
func (sr *SAFEReader) SceneBursts(acq *Acquisition) ([]Row, error) {
	sceneDir, err := sr.locateScene(acq.SceneID)
	if err != nil {
		return nil, err
	}

	annotationDir := filepath.Join(sceneDir, "annotation")
	entries, err := os.ReadDir(annotationDir)
	if err != nil {
		return nil, errors.Newf("annotation directory unreadable for scene %s: %v", acq.SceneID, err).
			Component("inventory").
			Category(errors.CategoryAnnotation).
			Kind(errors.KindRetrievalRequired).
			Build()
	}

	files := selectAnnotationFiles(entries)
	if len(files) == 0 {
		return nil, errors.Newf("no annotation files found for scene %s", acq.SceneID).
			Component("inventory").
			Category(errors.CategoryAnnotation).
			Kind(errors.KindRetrievalRequired).
			Build()
	}

	var rows []Row
	for swath, name := range files {
		swathRows, err := sr.readSwath(acq, swath, filepath.Join(annotationDir, name))
		if err != nil {
			return nil, err
		}
		rows = append(rows, swathRows...)
	}

	// Swath map iteration order is random; keep scene output deterministic.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SwathID != rows[j].SwathID {
			return rows[i].SwathID < rows[j].SwathID
		}
		return rows[i].BurstNr < rows[j].BurstNr
	})
	return rows, nil
}

// locateScene finds the extracted scene directory, preferring the download
// root over the archive mount.
func (sr *SAFEReader) locateScene(sceneID string) (string, error) {
	roots := []string{sr.DownloadRoot}
	if sr.LocalMount != "" {
		roots = append(roots, sr.LocalMount)
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, sceneID+".SAFE")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", errors.Newf("scene %s not found under download root or local mount", sceneID).
		Component("inventory").
		Category(errors.CategoryInventory).
		Kind(errors.KindRetrievalRequired).
		Context("scene", sceneID).
		Build()
}

// selectAnnotationFiles picks one annotation file per sub-swath. Burst
// timing is identical across polarisation channels, so the co-polarised
// file is preferred and any channel accepted as fallback.
func selectAnnotationFiles(entries []os.DirEntry) map[string]string {
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		swath := swathFromFilename(e.Name())
		if swath == "" {
			continue
		}
		coPol := strings.Contains(e.Name(), "-vv-") || strings.Contains(e.Name(), "-hh-")
		if _, ok := files[swath]; !ok || coPol {
			files[swath] = e.Name()
		}
	}
	return files
}

// swathFromFilename extracts the sub-swath id from an annotation filename
// such as s1a-iw1-slc-vv-20200103t051025-....xml.
func swathFromFilename(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return ""
	}
	swath := strings.ToUpper(parts[1])
	if !strings.HasPrefix(swath, "IW") && !strings.HasPrefix(swath, "EW") {
		return ""
	}
	return swath
}

// readSwath parses one sub-swath annotation file into burst rows.
func (sr *SAFEReader) readSwath(acq *Acquisition, swath, path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Newf("reading annotation %s: %v", filepath.Base(path), err).
			Component("inventory").
			Category(errors.CategoryAnnotation).
			Kind(errors.KindRetrievalRequired).
			Build()
	}

	var product annotationProduct
	if err := xml.Unmarshal(data, &product); err != nil {
		return nil, errors.Newf("parsing annotation %s: %v", filepath.Base(path), err).
			Component("inventory").
			Category(errors.CategoryAnnotation).
			Build()
	}

	bursts := product.SwathTiming.BurstList.Bursts
	if len(bursts) == 0 {
		return nil, errors.Newf("annotation %s lists no bursts", filepath.Base(path)).
			Component("inventory").
			Category(errors.CategoryAnnotation).
			Build()
	}

	linesPerBurst := product.SwathTiming.LinesPerBurst
	points := product.GeolocationGrid.PointList.Points

	rows := make([]Row, 0, len(bursts))
	for i, b := range bursts {
		footprint, err := burstFootprint(points, i, linesPerBurst)
		if err != nil {
			return nil, errors.Newf("burst %d of %s %s: %v", i+1, acq.SceneID, swath, err).
				Component("inventory").
				Category(errors.CategoryAnnotation).
				Build()
		}
		rows = append(rows, Row{
			SceneID:   acq.SceneID,
			Date:      acq.StartTime,
			SwathID:   swath,
			AnxTime:   int(math.Round(b.AzimuthAnxTime)),
			BurstNr:   i + 1,
			Direction: acq.DirectionCode(),
			Track:     acq.RelativeOrbit,
			Footprint: footprint,
		})
	}
	return rows, nil
}

// burstFootprint approximates one burst's footprint from the geolocation
// grid points falling inside its line range.
func burstFootprint(points []gridPoint, burstIdx, linesPerBurst int) (geom.Polygon, error) {
	if linesPerBurst <= 0 {
		return geom.Polygon{}, fmt.Errorf("invalid linesPerBurst %d", linesPerBurst)
	}
	firstLine := burstIdx * linesPerBurst
	lastLine := firstLine + linesPerBurst

	minLat, minLon := math.Inf(1), math.Inf(1)
	maxLat, maxLon := math.Inf(-1), math.Inf(-1)
	found := false
	for _, p := range points {
		if p.Line < firstLine || p.Line > lastLine {
			continue
		}
		found = true
		minLat = math.Min(minLat, p.Latitude)
		maxLat = math.Max(maxLat, p.Latitude)
		minLon = math.Min(minLon, p.Longitude)
		maxLon = math.Max(maxLon, p.Longitude)
	}
	if !found {
		return geom.Polygon{}, fmt.Errorf("no geolocation grid points in line range %d-%d", firstLine, lastLine)
	}
	return geom.Polygon{Ring: []r2.Vec{
		{X: minLon, Y: minLat},
		{X: maxLon, Y: minLat},
		{X: maxLon, Y: maxLat},
		{X: minLon, Y: maxLat},
	}}, nil
}
