// Package fetch locates and retrieves source scenes from a satellite data
// archive: a granule search client against an ASF-style GeoJSON API and a
// resumable, integrity-checked downloader.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/logging"
)

// Granule is one archive search result.
type Granule struct {
	SceneID         string
	Platform        string
	BeamMode        string
	FlightDirection string
	RelativeOrbit   int
	AbsoluteOrbit   int
	StartTime       time.Time
	StopTime        time.Time
	FootprintWKT    string
	URL             string
	FileName        string
	SizeBytes       int64
	MD5             string
}

// geoJSONResponse mirrors the archive's FeatureCollection envelope.
type geoJSONResponse struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Geometry   *geometry  `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type properties struct {
	SceneName       string `json:"sceneName"`
	Platform        string `json:"platform"`
	BeamModeType    string `json:"beamModeType"`
	FlightDirection string `json:"flightDirection"`
	RelativeOrbit   *int   `json:"relativeOrbit"`
	AbsoluteOrbit   *int   `json:"absoluteOrbit"`
	ProcessingLevel string `json:"processingLevel"`
	StartTime       string `json:"startTime"`
	StopTime        string `json:"stopTime"`
	URL             string `json:"url"`
	FileName        string `json:"fileName"`
	FileSize        *int64 `json:"fileSize"`
	MD5Sum          string `json:"md5sum"`
}

// SearchClient queries the granule search API.
type SearchClient struct {
	httpClient *http.Client
	settings   conf.SearchSettings
	logger     *slog.Logger
}

// NewSearchClient builds a search client from the configured settings.
func NewSearchClient(settings conf.SearchSettings) *SearchClient {
	logger := logging.ForService("fetch")
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		settings:   settings,
		logger:     logger,
	}
}

// Search queries the archive for scenes intersecting the given AOI polygon
// (WKT) within the configured period and orbit constraints. Results come
// back ordered as the archive returns them.
func (c *SearchClient) Search(ctx context.Context, aoiWKT string) ([]Granule, error) {
	query := url.Values{}
	query.Set("platform", c.settings.Platform)
	query.Set("processingLevel", c.settings.Product)
	query.Set("beamMode", c.settings.BeamMode)
	query.Set("intersectsWith", aoiWKT)
	query.Set("start", c.settings.Start)
	query.Set("end", c.settings.End)
	query.Set("output", "geojson")
	if c.settings.OrbitDirection != "" {
		query.Set("flightDirection", c.settings.OrbitDirection)
	}
	if c.settings.RelativeOrbit > 0 {
		query.Set("relativeOrbit", strconv.Itoa(c.settings.RelativeOrbit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.settings.APIURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Build()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Context("api_url", c.settings.APIURL).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("granule search returned %d: %s", resp.StatusCode, body).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Build()
	}

	var payload geoJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Newf("granule search response undecodable: %v", err).
			Component("fetch").
			Category(errors.CategoryNetwork).
			Build()
	}

	granules := make([]Granule, 0, len(payload.Features))
	for _, f := range payload.Features {
		g, err := granuleFromFeature(f)
		if err != nil {
			c.logger.Warn("skipping malformed search feature",
				"scene", f.Properties.SceneName, "error", err)
			continue
		}
		granules = append(granules, g)
	}

	c.logger.Info("archive search complete",
		"results", len(granules),
		"start", c.settings.Start,
		"end", c.settings.End)
	return granules, nil
}

func granuleFromFeature(f feature) (Granule, error) {
	p := f.Properties
	if p.SceneName == "" {
		return Granule{}, fmt.Errorf("feature without scene name")
	}
	start, err := time.Parse(time.RFC3339, normalizeTimestamp(p.StartTime))
	if err != nil {
		return Granule{}, fmt.Errorf("start time %q: %w", p.StartTime, err)
	}
	stop, err := time.Parse(time.RFC3339, normalizeTimestamp(p.StopTime))
	if err != nil {
		return Granule{}, fmt.Errorf("stop time %q: %w", p.StopTime, err)
	}

	g := Granule{
		SceneID:         p.SceneName,
		Platform:        p.Platform,
		BeamMode:        p.BeamModeType,
		FlightDirection: p.FlightDirection,
		StartTime:       start,
		StopTime:        stop,
		URL:             p.URL,
		FileName:        p.FileName,
		MD5:             p.MD5Sum,
	}
	if p.RelativeOrbit != nil {
		g.RelativeOrbit = *p.RelativeOrbit
	}
	if p.AbsoluteOrbit != nil {
		g.AbsoluteOrbit = *p.AbsoluteOrbit
	}
	if p.FileSize != nil {
		g.SizeBytes = *p.FileSize
	}
	if f.Geometry != nil && f.Geometry.Type == "Polygon" {
		g.FootprintWKT = polygonWKT(f.Geometry.Coordinates)
	}
	return g, nil
}

// normalizeTimestamp appends a UTC designator to archive timestamps that
// omit the zone, as the ASF API does.
func normalizeTimestamp(ts string) string {
	if ts == "" {
		return ts
	}
	if ts[len(ts)-1] == 'Z' {
		return ts
	}
	return ts + "Z"
}

// polygonWKT renders GeoJSON polygon coordinates as a WKT POLYGON. Only the
// outer ring matters for footprints.
func polygonWKT(coords json.RawMessage) string {
	var rings [][][2]float64
	if err := json.Unmarshal(coords, &rings); err != nil || len(rings) == 0 {
		return ""
	}
	out := "POLYGON (("
	for i, pt := range rings[0] {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%g %g", pt[0], pt[1])
	}
	return out + "))"
}
