package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mhelin/burstline/internal/engine"
	"github.com/mhelin/burstline/internal/plan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPlan(t *testing.T, bids []string, dates []string) (*plan.Plan, plan.Dirs) {
	t.Helper()
	root := t.TempDir()
	dirs := plan.Dirs{
		ProcessingRoot: filepath.Join(root, "processing"),
		OutputRoot:     filepath.Join(root, "products"),
	}

	p := &plan.Plan{RunID: "test-run"}
	for _, bid := range bids {
		for i, d := range dates {
			date, err := time.Parse("20060102", d)
			require.NoError(t, err)
			item := plan.WorkItem{
				BID:           bid,
				MasterDate:    date,
				MasterScene:   "SCENE_" + d,
				MasterBurstNr: 1,
				MasterPath:    "/download/SCENE_" + d + ".zip",
				OutDir:        filepath.Join(dirs.OutputRoot, bid, d),
				TempDir:       filepath.Join(dirs.ProcessingRoot, bid, d),
			}
			if i+1 < len(dates) {
				slave, err := time.Parse("20060102", dates[i+1])
				require.NoError(t, err)
				item.HasSlave = true
				item.SlaveDate = slave
				item.SlaveScene = "SCENE_" + dates[i+1]
				item.SlaveBurstNr = 1
				item.SlavePath = "/download/SCENE_" + dates[i+1] + ".zip"
			}
			p.Items = append(p.Items, item)
		}
	}
	return p, dirs
}

func TestRunPlanCompletesAllItems(t *testing.T) {
	eng := newFakeEngine()
	ard := defaultARD()
	ard.Concurrency = 2
	d := NewDriver(eng, ard)

	p, dirs := testPlan(t, []string{"A117_IW1_100", "A117_IW2_205"}, []string{"20200101", "20200113"})
	summary, err := d.RunPlan(context.Background(), p, dirs)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Outcomes, 4)

	// Report order is deterministic: sorted by bid then date.
	assert.Equal(t, "A117_IW1_100", summary.Outcomes[0].BID)
	assert.Equal(t, "20200101", summary.Outcomes[0].Date)
	assert.Equal(t, "A117_IW2_205", summary.Outcomes[3].BID)
	assert.Equal(t, "20200113", summary.Outcomes[3].Date)
}

func TestRunPlanIsolatesFailures(t *testing.T) {
	eng := newFakeEngine()
	eng.failOn[engine.StageCoherence] = true
	d := NewDriver(eng, defaultARD())

	p, dirs := testPlan(t, []string{"A117_IW1_100", "A117_IW2_205"}, []string{"20200101", "20200113"})
	summary, err := d.RunPlan(context.Background(), p, dirs)
	require.NoError(t, err, "item failures must not abort the batch")

	// The first item of each burst has a slave and fails at coherence;
	// the terminal items succeed.
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.Completed)
	for _, o := range summary.Outcomes {
		if o.Date == "20200101" {
			assert.Error(t, o.Err)
		} else {
			assert.NoError(t, o.Err)
		}
	}
}

func TestRunPlanRerunSkipsCompletedWork(t *testing.T) {
	eng := newFakeEngine()
	d := NewDriver(eng, defaultARD())

	p, dirs := testPlan(t, []string{"A117_IW1_100"}, []string{"20200101", "20200113"})
	_, err := d.RunPlan(context.Background(), p, dirs)
	require.NoError(t, err)
	firstRun := eng.callCount()

	summary, err := d.RunPlan(context.Background(), p, dirs)
	require.NoError(t, err)
	assert.Equal(t, firstRun, eng.callCount(), "re-run must perform zero stage invocations")
	assert.Equal(t, 2, summary.Completed)
}
