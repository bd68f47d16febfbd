package inventory

import (
	"log/slog"

	"github.com/mhelin/burstline/internal/geom"
	"github.com/mhelin/burstline/internal/logging"
)

// RefineOptions controls spatial refinement of the burst inventory.
type RefineOptions struct {
	AOI         geom.Polygon // area of interest
	Buffer      float64      // outward buffer in degrees applied to the AOI
	MinCoverage int          // minimum observations per burst, 0 disables the filter
}

// Refine intersects the inventory against the buffered area of interest,
// drops duplicate observations, and optionally drops bursts with too few
// observations to be useful as a time series. Row order is preserved; the
// output schema is identical to the input. Refining an already refined
// table returns the same rows.
func Refine(table *Table, opts RefineOptions) *Table {
	logger := logging.ForService("inventory")
	if logger == nil {
		logger = slog.Default()
	}

	// Spatial intersection against the buffered AOI. No AOI means no
	// spatial constraint.
	intersecting := &Table{}
	if len(opts.AOI.Ring) == 0 {
		intersecting.Rows = append(intersecting.Rows, table.Rows...)
	} else {
		aoi := opts.AOI.Buffer(opts.Buffer)
		for i := range table.Rows {
			if aoi.Intersects(table.Rows[i].Footprint) {
				intersecting.Rows = append(intersecting.Rows, table.Rows[i])
			}
		}
	}

	// Drop exact duplicate (scene, date, bid) observations. Within one bid
	// at most one observation per (scene, date) survives.
	type obsKey struct {
		scene string
		date  string
		bid   string
	}
	seen := make(map[obsKey]struct{}, len(intersecting.Rows))
	deduped := &Table{}
	for i := range intersecting.Rows {
		r := &intersecting.Rows[i]
		key := obsKey{scene: r.SceneID, date: r.DateKey(), bid: r.BID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped.Rows = append(deduped.Rows, *r)
	}

	if opts.MinCoverage <= 0 {
		logger.Info("inventory refined",
			"input_rows", table.Len(),
			"aoi_rows", intersecting.Len(),
			"rows", deduped.Len(),
			"bursts", len(deduped.BIDs()))
		return deduped
	}

	// Coverage filter: a burst below the minimum observation count cannot
	// form the requested time series and is dropped whole.
	counts := make(map[string]int)
	for i := range deduped.Rows {
		counts[deduped.Rows[i].BID]++
	}
	refined := &Table{}
	dropped := 0
	loggedDrop := make(map[string]struct{})
	for i := range deduped.Rows {
		r := &deduped.Rows[i]
		if counts[r.BID] < opts.MinCoverage {
			if _, logged := loggedDrop[r.BID]; !logged {
				loggedDrop[r.BID] = struct{}{}
				dropped++
				logger.Info("burst dropped: insufficient coverage",
					"bid", r.BID,
					"observations", counts[r.BID],
					"required", opts.MinCoverage)
			}
			continue
		}
		refined.Rows = append(refined.Rows, *r)
	}

	logger.Info("inventory refined",
		"input_rows", table.Len(),
		"aoi_rows", intersecting.Len(),
		"rows", refined.Len(),
		"bursts", len(refined.BIDs()),
		"dropped_bursts", dropped)
	return refined
}
