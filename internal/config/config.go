// Package config holds the runtime configuration for the seeallene
// daemons, loaded from defaults, an optional YAML file, and environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

type Config struct {
	StreamAddr string
	NavAddr    string
	DBPath     string

	// CaptureRegion restricts captures to a display sub-rectangle; nil
	// captures the full primary display.
	CaptureRegion  *model.Region
	CaptureCommand string

	OCRLangs string

	// MarkerPairs are the substring conjunctions identifying the target
	// mail client; matching either pair in full is sufficient, a single
	// substring never is.
	MarkerPairs       [][2]string
	FingerprintRegion model.FracRegion

	MaxTries            int
	AdvanceKey          string
	SettleDelay         time.Duration
	FallbackSettleDelay time.Duration
	ClickPause          time.Duration
	FallbackClicks      []model.FracPoint

	StreamFPS       int
	StreamQuality   int
	SnapshotQuality int

	PollInterval     time.Duration
	ProbeTimeout     time.Duration
	SnapshotTimeout  time.Duration
	RecoverSuccesses int
	DownWindow       time.Duration
	DownFailures     int

	CommandTimeout time.Duration
	RetryBackoff   []time.Duration

	ArmTTLDefault time.Duration
	ArmTTLMin     time.Duration
	ArmTTLMax     time.Duration
	ActionLimit   int
	ActionWindow  time.Duration
	AllowProxied  bool

	StreamdBin string
}

func DefaultConfig() Config {
	return Config{
		StreamAddr:     "127.0.0.1:8765",
		NavAddr:        "127.0.0.1:8766",
		DBPath:         defaultDBPath(),
		CaptureCommand: "import",
		OCRLangs:       "spa+eng",
		MarkerPairs: [][2]string{
			{"archivo", "inicio"},
			{"bandeja", "entrada"},
		},
		FingerprintRegion:   model.FracRegion{Left: 0.48, Top: 0.12, Width: 0.50, Height: 0.13},
		MaxTries:            2,
		AdvanceKey:          "Down",
		SettleDelay:         1200 * time.Millisecond,
		FallbackSettleDelay: 1500 * time.Millisecond,
		ClickPause:          200 * time.Millisecond,
		FallbackClicks: []model.FracPoint{
			{X: 0.33, Y: 0.35},
			{X: 0.33, Y: 0.43},
		},
		StreamFPS:        5,
		StreamQuality:    60,
		SnapshotQuality:  75,
		PollInterval:     5 * time.Second,
		ProbeTimeout:     1500 * time.Millisecond,
		SnapshotTimeout:  5 * time.Second,
		RecoverSuccesses: 2,
		DownWindow:       30 * time.Second,
		DownFailures:     1,
		CommandTimeout:   10 * time.Second,
		RetryBackoff:     []time.Duration{250 * time.Millisecond, 1 * time.Second},
		ArmTTLDefault:    30 * time.Second,
		ArmTTLMin:        5 * time.Second,
		ArmTTLMax:        300 * time.Second,
		ActionLimit:      20,
		ActionWindow:     10 * time.Second,
		StreamdBin:       "seeallene-streamd",
	}
}

// File is the YAML shape of the optional config file. Durations are
// plain milliseconds so hand-edited files stay unambiguous.
type File struct {
	StreamAddr        string             `yaml:"stream_addr"`
	NavAddr           string             `yaml:"nav_addr"`
	DBPath            string             `yaml:"db_path"`
	BBox              *model.Region      `yaml:"bbox"`
	CaptureCommand    string             `yaml:"capture_command"`
	OCRLangs          string             `yaml:"ocr_langs"`
	Markers           [][]string         `yaml:"markers"`
	FingerprintRegion *model.FracRegion  `yaml:"fingerprint_region"`
	MaxTries          int                `yaml:"max_tries"`
	AdvanceKey        string             `yaml:"advance_key"`
	SettleMs          int                `yaml:"settle_ms"`
	FallbackSettleMs  int                `yaml:"fallback_settle_ms"`
	ClickPauseMs      int                `yaml:"click_pause_ms"`
	FallbackClicks    []model.FracPoint  `yaml:"fallback_clicks"`
	FPS               int                `yaml:"fps"`
	Quality           int                `yaml:"quality"`
	SnapshotQuality   int                `yaml:"snapshot_quality"`
	PollMs            int                `yaml:"poll_ms"`
	ProbeTimeoutMs    int                `yaml:"probe_timeout_ms"`
	SnapshotTimeoutMs int                `yaml:"snapshot_timeout_ms"`
	StreamdBin        string             `yaml:"streamd_bin"`
}

// LoadFile overlays the YAML file at path on top of base. A missing
// file is not an error; the defaults stand.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("read config file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("parse config file: %w", err)
	}
	return merge(base, file)
}

func merge(cfg Config, file File) (Config, error) {
	if file.StreamAddr != "" {
		cfg.StreamAddr = file.StreamAddr
	}
	if file.NavAddr != "" {
		cfg.NavAddr = file.NavAddr
	}
	if file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if file.BBox != nil {
		if err := file.BBox.Validate(); err != nil {
			return cfg, fmt.Errorf("bbox: %w", err)
		}
		region := *file.BBox
		cfg.CaptureRegion = &region
	}
	if file.CaptureCommand != "" {
		cfg.CaptureCommand = file.CaptureCommand
	}
	if file.OCRLangs != "" {
		cfg.OCRLangs = file.OCRLangs
	}
	if len(file.Markers) > 0 {
		pairs := make([][2]string, 0, len(file.Markers))
		for _, raw := range file.Markers {
			if len(raw) != 2 || raw[0] == "" || raw[1] == "" {
				return cfg, fmt.Errorf("markers: each entry needs exactly two non-empty substrings")
			}
			pairs = append(pairs, [2]string{raw[0], raw[1]})
		}
		cfg.MarkerPairs = pairs
	}
	if file.FingerprintRegion != nil {
		if err := file.FingerprintRegion.Validate(); err != nil {
			return cfg, fmt.Errorf("fingerprint_region: %w", err)
		}
		cfg.FingerprintRegion = *file.FingerprintRegion
	}
	if file.MaxTries > 0 {
		cfg.MaxTries = file.MaxTries
	}
	if file.AdvanceKey != "" {
		cfg.AdvanceKey = file.AdvanceKey
	}
	if file.SettleMs > 0 {
		cfg.SettleDelay = time.Duration(file.SettleMs) * time.Millisecond
	}
	if file.FallbackSettleMs > 0 {
		cfg.FallbackSettleDelay = time.Duration(file.FallbackSettleMs) * time.Millisecond
	}
	if file.ClickPauseMs > 0 {
		cfg.ClickPause = time.Duration(file.ClickPauseMs) * time.Millisecond
	}
	if len(file.FallbackClicks) > 0 {
		cfg.FallbackClicks = file.FallbackClicks
	}
	if file.FPS > 0 {
		cfg.StreamFPS = file.FPS
	}
	if file.Quality > 0 {
		cfg.StreamQuality = file.Quality
	}
	if file.SnapshotQuality > 0 {
		cfg.SnapshotQuality = file.SnapshotQuality
	}
	if file.PollMs > 0 {
		cfg.PollInterval = time.Duration(file.PollMs) * time.Millisecond
	}
	if file.ProbeTimeoutMs > 0 {
		cfg.ProbeTimeout = time.Duration(file.ProbeTimeoutMs) * time.Millisecond
	}
	if file.SnapshotTimeoutMs > 0 {
		cfg.SnapshotTimeout = time.Duration(file.SnapshotTimeoutMs) * time.Millisecond
	}
	if file.StreamdBin != "" {
		cfg.StreamdBin = file.StreamdBin
	}
	return cfg, nil
}

// FromEnv applies environment overrides on top of cfg.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("SEEALLENE_STREAM_ADDR"); v != "" {
		cfg.StreamAddr = v
	}
	if v := os.Getenv("SEEALLENE_NAV_ADDR"); v != "" {
		cfg.NavAddr = v
	}
	if v := os.Getenv("SEEALLENE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SEEALLENE_STREAMD_BIN"); v != "" {
		cfg.StreamdBin = v
	}
	return cfg
}

// Path returns the config file location: SEEALLENE_CONFIG when set,
// otherwise the default under the user state directory.
func Path() string {
	if v := os.Getenv("SEEALLENE_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "seeallene.yaml"
	}
	return filepath.Join(home, ".local", "state", "seeallene", "config.yaml")
}

// Load resolves the effective config: defaults, then the optional file,
// then environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = Path()
	}
	cfg, err := LoadFile(path, cfg)
	if err != nil {
		return cfg, err
	}
	return FromEnv(cfg), nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "seeallene.db"
	}
	return filepath.Join(home, ".local", "state", "seeallene", "seeallene.db")
}
