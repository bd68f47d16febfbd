// Package plan turns the refined burst inventory into an ordered processing
// plan: one work item per (burst, date), chained so that each observation is
// paired with the immediately following one for coherence estimation.
package plan

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mhelin/burstline/internal/inventory"
	"github.com/mhelin/burstline/internal/logging"
)

// WorkItem is one unit of pipeline work: a master observation of one burst,
// optionally paired with the next observation as its slave. Consumed, never
// mutated, by the pipeline driver.
type WorkItem struct {
	BID string

	MasterDate    time.Time
	MasterScene   string
	MasterBurstNr int
	MasterPath    string // resolved source file of the master scene

	// Slave fields are unset on the terminal item of a chain. HasSlave
	// is authoritative: when false the coherence branch is skipped.
	HasSlave     bool
	SlaveDate    time.Time
	SlaveScene   string
	SlaveBurstNr int
	SlavePath    string

	OutDir  string // permanent output directory for this burst and date
	TempDir string // temporary artifact directory for this item
}

// MasterDateKey returns the master date formatted as YYYYMMDD.
func (w *WorkItem) MasterDateKey() string {
	return w.MasterDate.Format("20060102")
}

// SlaveDateKey returns the slave date formatted as YYYYMMDD, or empty when
// the item is terminal.
func (w *WorkItem) SlaveDateKey() string {
	if !w.HasSlave {
		return ""
	}
	return w.SlaveDate.Format("20060102")
}

// Plan is the complete ordered processing plan of one run.
type Plan struct {
	RunID string
	Items []WorkItem
}

// ItemsFor returns the work items of one burst in chain order.
func (p *Plan) ItemsFor(bid string) []WorkItem {
	var items []WorkItem
	for i := range p.Items {
		if p.Items[i].BID == bid {
			items = append(items, p.Items[i])
		}
	}
	return items
}

// Dirs holds the directory roots the plan lays its items out under.
type Dirs struct {
	ProcessingRoot string
	OutputRoot     string
}

// Build constructs the processing plan from the refined inventory. For every
// burst the observation dates are sorted ascending and each date becomes a
// work item whose slave is the next date; the chronologically last item is
// terminal. Source paths are resolved once per scene through the resolver.
// Identical input always yields an identical plan: bursts are visited in
// first-seen table order and date ties fall back to original row order.
func Build(table *inventory.Table, dirs Dirs, resolver Resolver) (*Plan, error) {
	logger := logging.ForService("plan")
	if logger == nil {
		logger = slog.Default()
	}

	p := &Plan{RunID: uuid.NewString()}
	for _, bid := range table.BIDs() {
		dates := table.DatesFor(bid)
		for i, date := range dates {
			item, err := buildItem(table, dirs, resolver, bid, date)
			if err != nil {
				return nil, err
			}
			if i+1 < len(dates) {
				if err := attachSlave(table, resolver, &item, bid, dates[i+1]); err != nil {
					return nil, err
				}
			}
			p.Items = append(p.Items, item)
		}
	}

	logger.Info("processing plan built",
		"run_id", p.RunID,
		"bursts", len(table.BIDs()),
		"items", len(p.Items))
	return p, nil
}

func buildItem(table *inventory.Table, dirs Dirs, resolver Resolver, bid string, date time.Time) (WorkItem, error) {
	row := observationRow(table, bid, date)
	path, err := resolver.Resolve(row.SceneID)
	if err != nil {
		return WorkItem{}, err
	}
	dateKey := date.Format("20060102")
	return WorkItem{
		BID:           bid,
		MasterDate:    date,
		MasterScene:   row.SceneID,
		MasterBurstNr: row.BurstNr,
		MasterPath:    path,
		OutDir:        filepath.Join(dirs.OutputRoot, bid, dateKey),
		TempDir:       filepath.Join(dirs.ProcessingRoot, bid, dateKey),
	}, nil
}

func attachSlave(table *inventory.Table, resolver Resolver, item *WorkItem, bid string, date time.Time) error {
	row := observationRow(table, bid, date)
	path, err := resolver.Resolve(row.SceneID)
	if err != nil {
		return err
	}
	item.HasSlave = true
	item.SlaveDate = date
	item.SlaveScene = row.SceneID
	item.SlaveBurstNr = row.BurstNr
	item.SlavePath = path
	return nil
}

// observationRow returns the first table row matching (bid, date); after
// refinement there is at most one, and first-in-table-order keeps the plan
// deterministic either way.
func observationRow(table *inventory.Table, bid string, date time.Time) *inventory.Row {
	key := date.Format("20060102")
	for i := range table.Rows {
		r := &table.Rows[i]
		if r.BID == bid && r.DateKey() == key {
			return r
		}
	}
	return &inventory.Row{}
}
