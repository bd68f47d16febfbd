package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/errors"
)

const searchURL = "https://archive.example/services/search/param"

func testSearchClient() *SearchClient {
	c := NewSearchClient(conf.SearchSettings{
		APIURL:         searchURL,
		Platform:       "Sentinel-1",
		Product:        "SLC",
		BeamMode:       "IW",
		Start:          "2020-01-01",
		End:            "2020-02-01",
		OrbitDirection: "ASCENDING",
	})
	httpmock.ActivateNonDefault(c.httpClient)
	return c
}

const searchResponse = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[10.0, 50.0], [11.0, 50.0], [11.0, 51.0], [10.0, 51.0], [10.0, 50.0]]]
      },
      "properties": {
        "sceneName": "S1A_IW_SLC__1SDV_20200103T051025_20200103T051052_030639_038280_1A12",
        "platform": "Sentinel-1A",
        "beamModeType": "IW",
        "flightDirection": "ASCENDING",
        "relativeOrbit": 117,
        "absoluteOrbit": 30639,
        "processingLevel": "SLC",
        "startTime": "2020-01-03T05:10:25.000000",
        "stopTime": "2020-01-03T05:10:52.000000",
        "url": "https://archive.example/download/scene.zip",
        "fileName": "scene.zip",
        "fileSize": 4096,
        "md5sum": "abc"
      }
    },
    {
      "type": "Feature",
      "properties": {
        "startTime": "2020-01-15T05:10:25.000000Z",
        "stopTime": "2020-01-15T05:10:52.000000Z"
      }
    }
  ]
}`

func TestSearchParsesGranules(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	c := testSearchClient()
	httpmock.RegisterResponder(http.MethodGet, searchURL,
		httpmock.NewStringResponder(http.StatusOK, searchResponse))

	granules, err := c.Search(context.Background(), "POLYGON ((10 50, 11 50, 11 51, 10 50))")
	require.NoError(t, err)

	// The nameless second feature is skipped, not fatal.
	require.Len(t, granules, 1)
	g := granules[0]
	assert.Equal(t, "S1A_IW_SLC__1SDV_20200103T051025_20200103T051052_030639_038280_1A12", g.SceneID)
	assert.Equal(t, "ASCENDING", g.FlightDirection)
	assert.Equal(t, 117, g.RelativeOrbit)
	assert.Equal(t, int64(4096), g.SizeBytes)
	assert.Equal(t, "POLYGON ((10 50, 11 50, 11 51, 10 51, 10 50))", g.FootprintWKT)
	assert.Equal(t, time.Date(2020, 1, 3, 5, 10, 25, 0, time.UTC), g.StartTime)
}

func TestSearchQueryParameters(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	c := testSearchClient()

	var query map[string][]string
	httpmock.RegisterResponder(http.MethodGet, searchURL,
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.Query()
			return httpmock.NewStringResponse(http.StatusOK,
				`{"type":"FeatureCollection","features":[]}`), nil
		})

	_, err := c.Search(context.Background(), "POLYGON ((0 0, 1 0, 1 1, 0 0))")
	require.NoError(t, err)

	assert.Equal(t, []string{"Sentinel-1"}, query["platform"])
	assert.Equal(t, []string{"SLC"}, query["processingLevel"])
	assert.Equal(t, []string{"ASCENDING"}, query["flightDirection"])
	assert.Equal(t, []string{"POLYGON ((0 0, 1 0, 1 1, 0 0))"}, query["intersectsWith"])
	assert.NotContains(t, query, "relativeOrbit", "zero track means no constraint")
}

func TestSearchReportsServerError(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	c := testSearchClient()
	httpmock.RegisterResponder(http.MethodGet, searchURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream down"))

	_, err := c.Search(context.Background(), "POLYGON ((0 0, 1 0, 1 1, 0 0))")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func md5Of(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func testDownloader(t *testing.T, retries int) *Downloader {
	t.Helper()
	d := NewDownloader(conf.DownloadSettings{
		Directory:  t.TempDir(),
		MaxRetries: retries,
		TimeoutSec: 5,
	})
	d.backoff = func(int) time.Duration { return 0 }
	httpmock.ActivateNonDefault(d.httpClient)
	return d
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	d := testDownloader(t, 3)
	payload := []byte("zip archive bytes")
	httpmock.RegisterResponder(http.MethodGet, "https://archive.example/scene.zip",
		httpmock.NewBytesResponder(http.StatusOK, payload))

	g := Granule{
		SceneID:  "S1A_TEST",
		URL:      "https://archive.example/scene.zip",
		FileName: "scene.zip",
		MD5:      md5Of(payload),
	}
	dest, err := d.Fetch(context.Background(), g)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, dest+partSuffix, "partial file is renamed away on success")
}

func TestFetchResumesPartialDownload(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	d := testDownloader(t, 3)
	payload := []byte("0123456789abcdef")

	// A previous run got half way.
	part := filepath.Join(d.settings.Directory, "scene.zip"+partSuffix)
	require.NoError(t, os.MkdirAll(d.settings.Directory, 0o755))
	require.NoError(t, os.WriteFile(part, payload[:8], 0o644))

	var rangeHeader string
	httpmock.RegisterResponder(http.MethodGet, "https://archive.example/scene.zip",
		func(req *http.Request) (*http.Response, error) {
			rangeHeader = req.Header.Get("Range")
			resp := httpmock.NewBytesResponse(http.StatusPartialContent, payload[8:])
			return resp, nil
		})

	g := Granule{
		SceneID:   "S1A_TEST",
		URL:       "https://archive.example/scene.zip",
		FileName:  "scene.zip",
		SizeBytes: int64(len(payload)),
		MD5:       md5Of(payload),
	}
	dest, err := d.Fetch(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, "bytes=8-", rangeHeader)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchRestartsWhenRangeNotHonoured(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	d := testDownloader(t, 3)
	payload := []byte("0123456789abcdef")

	part := filepath.Join(d.settings.Directory, "scene.zip"+partSuffix)
	require.NoError(t, os.MkdirAll(d.settings.Directory, 0o755))
	require.NoError(t, os.WriteFile(part, []byte("stale-bytes"), 0o644))

	// Server ignores the range and replays the full body.
	httpmock.RegisterResponder(http.MethodGet, "https://archive.example/scene.zip",
		httpmock.NewBytesResponder(http.StatusOK, payload))

	g := Granule{
		SceneID:  "S1A_TEST",
		URL:      "https://archive.example/scene.zip",
		FileName: "scene.zip",
		MD5:      md5Of(payload),
	}
	dest, err := d.Fetch(context.Background(), g)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "stale partial bytes must be discarded")
}

func TestFetchIntegrityFailureAfterRetryBudget(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	d := testDownloader(t, 2)
	httpmock.RegisterResponder(http.MethodGet, "https://archive.example/scene.zip",
		httpmock.NewBytesResponder(http.StatusOK, []byte("corrupted")))

	g := Granule{
		SceneID:  "S1A_TEST",
		URL:      "https://archive.example/scene.zip",
		FileName: "scene.zip",
		MD5:      md5Of([]byte("what the archive promised")),
	}
	_, err := d.Fetch(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.IsIntegrityFailure(err))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestFetchSkipsVerifiedFile(t *testing.T) {
	defer httpmock.DeactivateAndReset()
	d := testDownloader(t, 3)
	payload := []byte("already here")
	dest := filepath.Join(d.settings.Directory, "scene.zip")
	require.NoError(t, os.MkdirAll(d.settings.Directory, 0o755))
	require.NoError(t, os.WriteFile(dest, payload, 0o644))

	g := Granule{
		SceneID:  "S1A_TEST",
		URL:      "https://archive.example/scene.zip",
		FileName: "scene.zip",
		MD5:      md5Of(payload),
	}
	got, err := d.Fetch(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	assert.Equal(t, 0, httpmock.GetTotalCallCount(), "no request for a verified file")
}

func TestFetchRejectsGranuleWithoutLocation(t *testing.T) {
	d := testDownloader(t, 3)
	_, err := d.Fetch(context.Background(), Granule{SceneID: "S1A_TEST"})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryDownload, errors.CategoryOf(err))
}
