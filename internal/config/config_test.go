package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileMissingKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), DefaultConfig())
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.StreamAddr != "127.0.0.1:8765" || cfg.MaxTries != 2 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.CaptureRegion != nil {
		t.Fatalf("default capture region must be full display")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
stream_addr: "127.0.0.1:9765"
bbox:
  left: 100
  top: 50
  width: 800
  height: 600
ocr_langs: "eng"
markers:
  - ["file", "home"]
max_tries: 3
settle_ms: 900
fps: 10
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFile(path, DefaultConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StreamAddr != "127.0.0.1:9765" {
		t.Fatalf("stream_addr=%q", cfg.StreamAddr)
	}
	if cfg.CaptureRegion == nil || cfg.CaptureRegion.Width != 800 {
		t.Fatalf("bbox not applied: %+v", cfg.CaptureRegion)
	}
	if cfg.OCRLangs != "eng" {
		t.Fatalf("ocr_langs=%q", cfg.OCRLangs)
	}
	if len(cfg.MarkerPairs) != 1 || cfg.MarkerPairs[0] != [2]string{"file", "home"} {
		t.Fatalf("markers not applied: %+v", cfg.MarkerPairs)
	}
	if cfg.MaxTries != 3 || cfg.SettleDelay != 900*time.Millisecond || cfg.StreamFPS != 10 {
		t.Fatalf("numeric overrides missing: %+v", cfg)
	}
	// Untouched keys keep defaults.
	if cfg.NavAddr != "127.0.0.1:8766" || cfg.AdvanceKey != "Down" {
		t.Fatalf("untouched defaults lost: %+v", cfg)
	}
}

func TestLoadFileRejectsInvalidBBox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "bbox:\n  left: 0\n  top: 0\n  width: 0\n  height: 600\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path, DefaultConfig()); err == nil {
		t.Fatalf("expected bbox validation error")
	}
}

func TestLoadFileRejectsSingletonMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "markers:\n  - [\"solo\"]\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path, DefaultConfig()); err == nil {
		t.Fatalf("marker pairs need exactly two substrings")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SEEALLENE_STREAM_ADDR", "127.0.0.1:1111")
	t.Setenv("SEEALLENE_NAV_ADDR", "127.0.0.1:2222")
	t.Setenv("SEEALLENE_DB", "/tmp/seeallene-test.db")
	cfg := FromEnv(DefaultConfig())
	if cfg.StreamAddr != "127.0.0.1:1111" || cfg.NavAddr != "127.0.0.1:2222" || cfg.DBPath != "/tmp/seeallene-test.db" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}
