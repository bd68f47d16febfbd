package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/mhelin/burstline/internal/geom"
)

// Row is one burst observation: a single burst of one sub-swath seen during
// one acquisition. The burst inventory is a flat table of these rows.
type Row struct {
	BID       string       // canonical burst identifier, empty until assigned
	SceneID   string       // source acquisition
	Date      time.Time    // acquisition date
	SwathID   string       // sub-swath, e.g. IW1
	AnxTime   int          // timing of the burst within its orbit, seconds past ANX
	BurstNr   int          // sequence number of the burst within the acquisition
	Direction string       // orbit direction code, A or D
	Track     int          // relative orbit
	Footprint geom.Polygon // burst footprint
}

// DateKey returns the row date formatted as YYYYMMDD.
func (r *Row) DateKey() string {
	return r.Date.Format("20060102")
}

// Table is the burst inventory. Rows are append-only during normalization
// and only ever dropped, never mutated, during refinement.
type Table struct {
	Rows []Row
}

// FormatBID derives the burst identifier from its components. Called only
// after AnxTime canonicalization; deriving identifiers from raw timing
// values fragments the time series.
func FormatBID(direction string, track int, swathID string, anxTime int) string {
	return fmt.Sprintf("%s%d_%s_%d", direction, track, swathID, anxTime)
}

// BIDs returns the distinct burst identifiers in first-seen order.
func (t *Table) BIDs() []string {
	seen := make(map[string]struct{}, len(t.Rows))
	var bids []string
	for i := range t.Rows {
		bid := t.Rows[i].BID
		if _, ok := seen[bid]; !ok {
			seen[bid] = struct{}{}
			bids = append(bids, bid)
		}
	}
	return bids
}

// RowsFor returns the rows belonging to one burst, in table order.
func (t *Table) RowsFor(bid string) []Row {
	var rows []Row
	for i := range t.Rows {
		if t.Rows[i].BID == bid {
			rows = append(rows, t.Rows[i])
		}
	}
	return rows
}

// DatesFor returns the distinct observation dates of one burst in ascending
// order.
func (t *Table) DatesFor(bid string) []time.Time {
	seen := make(map[string]struct{})
	var dates []time.Time
	for i := range t.Rows {
		if t.Rows[i].BID != bid {
			continue
		}
		key := t.Rows[i].DateKey()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			dates = append(dates, t.Rows[i].Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}
