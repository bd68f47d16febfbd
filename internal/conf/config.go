// Package conf defines the burstline settings structure and functions to
// load, validate and save it. Settings are constructed once per run and
// treated as immutable afterwards; every component receives them by
// reference instead of reading global state.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MainSettings contains application-wide settings.
type MainSettings struct {
	Name string      // project name, used as the processing tree root directory name
	Log  LogSettings // file logging configuration
}

// LogSettings contains log file rotation configuration.
type LogSettings struct {
	Enabled    bool   // true to also log to a rotating file
	Path       string // path to log file
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // number of rotated files to keep
	MaxAgeDays int    // days to retain rotated files
}

// AOISettings describes the area of interest.
type AOISettings struct {
	WKT    string  // area of interest as a WKT polygon (WGS84)
	Buffer float64 // outward buffer in degrees applied before intersection tests
}

// SearchSettings controls the archive query for source scenes.
type SearchSettings struct {
	APIURL         string // granule search endpoint
	Platform       string // satellite platform, e.g. Sentinel-1
	Product        string // product level, e.g. SLC
	BeamMode       string // acquisition mode, e.g. IW
	Start          string // search period start, YYYY-MM-DD
	End            string // search period end, YYYY-MM-DD
	OrbitDirection string // ASCENDING, DESCENDING or empty for both
	RelativeOrbit  int    // restrict to one track, 0 for any
}

// DownloadSettings controls scene retrieval.
type DownloadSettings struct {
	Directory   string // directory scenes are downloaded into
	LocalMount  string // optional read-only archive mount searched before downloading
	MaxRetries  int    // attempts per scene before reporting an integrity failure
	TimeoutSec  int    // per-request timeout in seconds
	Concurrency int    // parallel downloads
}

// ARDSettings holds the analysis-ready-data generation parameters passed to
// the external engine. One immutable copy is built per pipeline run.
type ARDSettings struct {
	Resolution     float64  // output pixel spacing in meters
	Polarisations  []string // polarisation channels to process, e.g. VV, VH
	RTC            bool     // apply radiometric terrain flattening before geocoding
	Polarimetry    bool     // produce H-A-Alpha polarimetric decomposition
	LSMask         bool     // produce layover/shadow mask
	Coherence      bool     // produce repeat-pass coherence where a slave exists
	MTFilter       bool     // apply multi-temporal speckle filtering to assembled stacks
	ToDB           bool     // convert backscatter to dB on export
	DEMName        string   // digital elevation model used for terrain stages
	NoData         float64  // no-data value stamped on exported rasters
	MinCoverage    int      // minimum observations per burst, 0 to disable the filter
	KeepTemporary  bool     // keep per-item temporary artifacts for debugging
	GPTPath        string   // path to the external graph processing tool executable
	GraphDir       string   // directory holding the processing graph files
	EngineThreads  int      // threads handed to each engine invocation
	Concurrency    int      // bursts processed in parallel
	MinFreeSpaceGB int      // preflight minimum free space on the processing volume
}

// DirectorySettings holds the on-disk layout roots.
type DirectorySettings struct {
	ProcessingRoot string // temporary per-item artifacts live under this root
	OutputRoot     string // final per-burst products live under this root
	DatabasePath   string // SQLite inventory database location
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool // enable debug output

	Main        MainSettings
	AOI         AOISettings
	Search      SearchSettings
	Download    DownloadSettings
	ARD         ARDSettings
	Directories DirectorySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
)

// Load reads the configuration file via viper, applying defaults for any
// missing values, and validates the result. The first call wins; later calls
// return the same instance.
func Load() (*Settings, error) {
	var err error
	once.Do(func() {
		settingsInstance, err = load()
	})
	if err != nil {
		return nil, err
	}
	if settingsInstance == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return settingsInstance, nil
}

// Setting returns the loaded settings, or nil if Load has not succeeded.
func Setting() *Settings {
	return settingsInstance
}

func load() (*Settings, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range configPaths() {
		viper.AddConfigPath(path)
	}
	viper.SetEnvPrefix("BURSTLINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine on first run; defaults apply and a
		// template is written for the user to edit.
		if werr := writeDefaultConfig(); werr != nil {
			return nil, werr
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks settings consistency before a run starts.
func (s *Settings) Validate() error {
	if s.Main.Name == "" {
		return fmt.Errorf("main.name must not be empty")
	}
	if s.ARD.Resolution <= 0 {
		return fmt.Errorf("ard.resolution must be positive, got %v", s.ARD.Resolution)
	}
	if len(s.ARD.Polarisations) == 0 {
		return fmt.Errorf("ard.polarisations must list at least one channel")
	}
	for _, pol := range s.ARD.Polarisations {
		if pol != "VV" && pol != "VH" && pol != "HH" && pol != "HV" {
			return fmt.Errorf("unsupported polarisation %q", pol)
		}
	}
	if s.ARD.Concurrency < 1 {
		return fmt.Errorf("ard.concurrency must be at least 1")
	}
	if s.ARD.MinCoverage < 0 {
		return fmt.Errorf("ard.mincoverage must not be negative")
	}
	if s.Download.MaxRetries < 1 {
		return fmt.Errorf("download.maxretries must be at least 1")
	}
	return nil
}

// Save writes the settings to the given path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// configPaths returns the directories searched for a config file, in order.
func configPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "burstline"))
	}
	return paths
}

func writeDefaultConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil // nowhere to write, run on defaults
	}
	path := filepath.Join(home, ".config", "burstline", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("error building default config: %w", err)
	}
	return settings.Save(path)
}
