package inventory

import (
	"log/slog"

	"github.com/mhelin/burstline/internal/logging"
)

// BuildInventory turns a list of acquisitions into the normalized burst
// inventory: one row per (acquisition, sub-swath burst), concatenated in
// acquisition-list order, with canonicalized timing and burst identifiers
// assigned. Any scene whose annotation cannot be read aborts the build with
// a retrieval-required error; a partial inventory would silently fragment
// every downstream product.
func BuildInventory(acquisitions []Acquisition, reader AnnotationReader) (*Table, error) {
	logger := logging.ForService("inventory")
	if logger == nil {
		logger = slog.Default()
	}

	table := &Table{}
	for i := range acquisitions {
		acq := &acquisitions[i]
		rows, err := reader.SceneBursts(acq)
		if err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, rows...)
		logger.Debug("scene normalized",
			"scene", acq.SceneID,
			"bursts", len(rows))
	}

	CanonicalizeAnxTimes(table)
	AssignBIDs(table)

	logger.Info("burst inventory built",
		"scenes", len(acquisitions),
		"rows", table.Len(),
		"bursts", len(table.BIDs()))
	return table, nil
}

// AssignBIDs computes the burst identifier column from direction, track,
// sub-swath and canonicalized timing. Must run after CanonicalizeAnxTimes.
func AssignBIDs(table *Table) {
	for i := range table.Rows {
		r := &table.Rows[i]
		r.BID = FormatBID(r.Direction, r.Track, r.SwathID, r.AnxTime)
	}
}
