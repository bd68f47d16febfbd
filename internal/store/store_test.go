package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhelin/burstline/internal/geom"
	"github.com/mhelin/burstline/internal/inventory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "burstline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testScene(sceneID string) Scene {
	return Scene{
		SceneID:         sceneID,
		Platform:        "Sentinel-1A",
		FlightDirection: "ASCENDING",
		RelativeOrbit:   117,
		StartTime:       time.Date(2020, 1, 3, 5, 10, 25, 0, time.UTC),
		StopTime:        time.Date(2020, 1, 3, 5, 10, 52, 0, time.UTC),
		URL:             "https://archive.example/" + sceneID + ".zip",
		FileName:        sceneID + ".zip",
		SizeBytes:       4096,
		MD5:             "abc",
	}
}

func TestUpsertScenesKeepsRetrievalState(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertScenes([]Scene{testScene("S1A_ONE"), testScene("S1A_TWO")}))
	require.NoError(t, s.MarkDownloaded("S1A_ONE", "/data/S1A_ONE.zip"))

	// A repeated search must not reset the downloaded flag.
	updated := testScene("S1A_ONE")
	updated.SizeBytes = 8192
	require.NoError(t, s.UpsertScenes([]Scene{updated}))

	downloaded, err := s.DownloadedScenes()
	require.NoError(t, err)
	require.Len(t, downloaded, 1)
	assert.Equal(t, "S1A_ONE", downloaded[0].SceneID)
	assert.Equal(t, "/data/S1A_ONE.zip", downloaded[0].LocalPath)
	assert.Equal(t, int64(8192), downloaded[0].SizeBytes, "metadata still refreshes")
	require.NotNil(t, downloaded[0].VerifiedAt)

	pending, err := s.PendingScenes()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "S1A_TWO", pending[0].SceneID)
}

func TestMarkDownloadedUnknownScene(t *testing.T) {
	s := openTestStore(t)
	err := s.MarkDownloaded("S1A_MISSING", "/data/nowhere.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not catalogued")
}

func inventoryFixture(t *testing.T) *inventory.Table {
	t.Helper()
	fp, err := geom.ParseWKTPolygon("POLYGON ((10 50, 11 50, 11 51, 10 51, 10 50))")
	require.NoError(t, err)
	return &inventory.Table{Rows: []inventory.Row{
		{
			BID:       "A117_IW1_100",
			SceneID:   "S1A_ONE",
			Date:      time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
			SwathID:   "IW1",
			AnxTime:   100,
			BurstNr:   3,
			Direction: "A",
			Track:     117,
			Footprint: fp,
		},
		{
			BID:       "A117_IW1_100",
			SceneID:   "S1A_TWO",
			Date:      time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
			SwathID:   "IW1",
			AnxTime:   100,
			BurstNr:   3,
			Direction: "A",
			Track:     117,
			Footprint: fp,
		},
	}}
}

func TestInventoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	table := inventoryFixture(t)
	require.NoError(t, s.ReplaceInventory(table))

	loaded, err := s.LoadInventory()
	require.NoError(t, err)
	require.Len(t, loaded.Rows, 2)

	for i := range table.Rows {
		want, got := &table.Rows[i], &loaded.Rows[i]
		assert.Equal(t, want.BID, got.BID)
		assert.Equal(t, want.SceneID, got.SceneID)
		assert.True(t, want.Date.Equal(got.Date))
		assert.Equal(t, want.AnxTime, got.AnxTime)
		assert.Equal(t, want.BurstNr, got.BurstNr)
		assert.Equal(t, want.Footprint.WKT(), got.Footprint.WKT())
	}
	assert.Equal(t, []string{"A117_IW1_100"}, loaded.BIDs())
}

func TestInventoryRoundTripWithoutFootprints(t *testing.T) {
	s := openTestStore(t)
	table := inventoryFixture(t)
	for i := range table.Rows {
		table.Rows[i].Footprint = geom.Polygon{}
	}
	require.NoError(t, s.ReplaceInventory(table))

	// A missing footprint must survive the round trip as an empty ring,
	// not come back as an unparseable WKT string.
	loaded, err := s.LoadInventory()
	require.NoError(t, err)
	require.Len(t, loaded.Rows, 2)
	for i := range loaded.Rows {
		assert.Empty(t, loaded.Rows[i].Footprint.Ring)
	}
}

func TestReplaceInventoryIsWholesale(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.ReplaceInventory(inventoryFixture(t)))

	// A refinement pass drops one observation; the stale row must not linger.
	table := inventoryFixture(t)
	table.Rows = table.Rows[:1]
	require.NoError(t, s.ReplaceInventory(table))

	loaded, err := s.LoadInventory()
	require.NoError(t, err)
	require.Len(t, loaded.Rows, 1)
	assert.Equal(t, "S1A_ONE", loaded.Rows[0].SceneID)
}

func TestReplaceInventoryEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.ReplaceInventory(inventoryFixture(t)))
	require.NoError(t, s.ReplaceInventory(&inventory.Table{}))

	loaded, err := s.LoadInventory()
	require.NoError(t, err)
	assert.Empty(t, loaded.Rows)
}
