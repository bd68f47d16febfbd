package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Main: MainSettings{Name: "burstline"},
		ARD: ARDSettings{
			Resolution:    20,
			Polarisations: []string{"VV", "VH"},
			Concurrency:   1,
		},
		Download: DownloadSettings{MaxRetries: 3},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validSettings().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"empty name", func(s *Settings) { s.Main.Name = "" }, "main.name"},
		{"zero resolution", func(s *Settings) { s.ARD.Resolution = 0 }, "resolution"},
		{"no polarisations", func(s *Settings) { s.ARD.Polarisations = nil }, "polarisations"},
		{"bad polarisation", func(s *Settings) { s.ARD.Polarisations = []string{"XX"} }, "unsupported polarisation"},
		{"zero concurrency", func(s *Settings) { s.ARD.Concurrency = 0 }, "concurrency"},
		{"negative coverage", func(s *Settings) { s.ARD.MinCoverage = -1 }, "mincoverage"},
		{"zero retries", func(s *Settings) { s.Download.MaxRetries = 0 }, "maxretries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := validSettings()
	path := dir + "/config.yaml"
	require.NoError(t, s.Save(path))
	assert.FileExists(t, path)
}
