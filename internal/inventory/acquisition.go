// Package inventory builds and refines the burst inventory: it normalizes
// per-scene annotation metadata into one row per burst observation,
// canonicalizes burst timing so repeated passes over the same burst share one
// identifier, and filters the result against the area of interest.
package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mhelin/burstline/internal/geom"
)

// Acquisition is one satellite pass as returned by the archive search.
// Immutable once ingested.
type Acquisition struct {
	SceneID        string       // scene identifier, encodes platform/mode/times/orbits
	Platform       string       // e.g. S1A, S1B
	BeamMode       string       // e.g. IW
	Product        string       // e.g. SLC
	Polarisation   string       // scene polarisation scheme, e.g. DV (dual VV+VH)
	StartTime      time.Time    // acquisition start
	StopTime       time.Time    // acquisition stop
	AbsoluteOrbit  int          // absolute orbit number
	RelativeOrbit  int          // relative orbit (track)
	OrbitDirection string       // ASCENDING or DESCENDING
	Footprint      geom.Polygon // scene footprint
	URL            string       // archive download URL
	MD5            string       // archive checksum, empty if unpublished
	SizeBytes      int64        // archive size
}

// Sentinel-1 relative orbit derivation constants. The track repeats every
// 175 orbits; the phase offset differs per platform.
const orbitCycle = 175

var orbitPhase = map[string]int{
	"S1A": 73,
	"S1B": 27,
}

// ParseSceneID extracts the metadata encoded in a Sentinel-1 scene
// identifier of the form
// S1A_IW_SLC__1SDV_20200103T051025_20200103T051053_030639_038280_1A12.
func ParseSceneID(sceneID string) (Acquisition, error) {
	parts := strings.Split(sceneID, "_")
	// The double underscore after the product type yields an empty field.
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			fields = append(fields, p)
		}
	}
	if len(fields) < 8 {
		return Acquisition{}, fmt.Errorf("malformed scene identifier %q", sceneID)
	}

	acq := Acquisition{
		SceneID:  sceneID,
		Platform: fields[0],
		BeamMode: fields[1],
		Product:  fields[2],
	}

	// Field 3 is the processing level + class + polarisation, e.g. 1SDV.
	if len(fields[3]) >= 4 {
		acq.Polarisation = fields[3][2:4]
	}

	start, err := time.Parse("20060102T150405", fields[4])
	if err != nil {
		return Acquisition{}, fmt.Errorf("bad start timestamp in %q: %w", sceneID, err)
	}
	stop, err := time.Parse("20060102T150405", fields[5])
	if err != nil {
		return Acquisition{}, fmt.Errorf("bad stop timestamp in %q: %w", sceneID, err)
	}
	acq.StartTime = start
	acq.StopTime = stop

	absOrbit, err := strconv.Atoi(fields[6])
	if err != nil {
		return Acquisition{}, fmt.Errorf("bad orbit number in %q: %w", sceneID, err)
	}
	acq.AbsoluteOrbit = absOrbit
	acq.RelativeOrbit = relativeOrbit(acq.Platform, absOrbit)

	return acq, nil
}

// relativeOrbit computes the repeat track from the absolute orbit number.
func relativeOrbit(platform string, absOrbit int) int {
	phase, ok := orbitPhase[platform]
	if !ok {
		phase = orbitPhase["S1A"]
	}
	rel := (absOrbit - phase) % orbitCycle
	if rel < 0 {
		rel += orbitCycle
	}
	return rel + 1
}

// Date returns the acquisition date key, YYYYMMDD.
func (a *Acquisition) Date() string {
	return a.StartTime.Format("20060102")
}

// DirectionCode returns the single-letter orbit direction code used in burst
// identifiers.
func (a *Acquisition) DirectionCode() string {
	if strings.EqualFold(a.OrbitDirection, "DESCENDING") {
		return "D"
	}
	return "A"
}
