// Package doctor checks that the host can run the capture, recognition
// and injection pipeline.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Finithe-Phoenix/seeallene/internal/config"
)

type Options struct {
	Config     config.Config
	ConfigPath string
	// LookPath is replaceable for tests; defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// Getenv is replaceable for tests; defaults to os.Getenv.
	Getenv func(key string) string
}

type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass | warn | fail
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type Result struct {
	OK       bool     `json:"ok"`
	Checks   []Check  `json:"checks"`
	Warnings []string `json:"warnings,omitempty"`
}

func Run(opts Options) Result {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	out := Result{OK: true}
	add := func(c Check) {
		out.Checks = append(out.Checks, c)
		if c.Status == "warn" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", c.Name, c.Message))
		}
		if c.Status == "fail" {
			out.OK = false
		}
	}

	add(checkBinary(opts, "capture_tool", opts.Config.CaptureCommand))
	add(checkBinary(opts, "recognizer", "tesseract"))
	add(checkBinary(opts, "injector", "xdotool"))
	add(checkDisplay(opts))
	add(checkStateDir(opts.Config.DBPath))
	add(checkConfigFile(opts.ConfigPath))
	return out
}

func checkBinary(opts Options, name, bin string) Check {
	if bin == "" {
		return Check{Name: name, Status: "fail", Message: "no command configured"}
	}
	path, err := opts.LookPath(bin)
	if err != nil {
		return Check{Name: name, Status: "fail", Message: fmt.Sprintf("%s not found in PATH", bin)}
	}
	return Check{Name: name, Status: "pass", Message: "found", Path: path}
}

func checkDisplay(opts Options) Check {
	if opts.Getenv("DISPLAY") == "" && opts.Getenv("WAYLAND_DISPLAY") == "" {
		return Check{Name: "display", Status: "fail", Message: "DISPLAY is not set; capture and injection need a session"}
	}
	return Check{Name: "display", Status: "pass", Message: "display session available"}
}

func checkStateDir(dbPath string) Check {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "state_dir", Status: "fail", Message: fmt.Sprintf("create: %v", err), Path: dir}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "state_dir", Status: "fail", Message: fmt.Sprintf("not writable: %v", err), Path: dir}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return Check{Name: "state_dir", Status: "pass", Message: "writable", Path: dir}
}

func checkConfigFile(path string) Check {
	if path == "" {
		path = config.Path()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Check{Name: "config", Status: "warn", Message: "no config file, using defaults", Path: path}
	}
	if _, err := config.LoadFile(path, config.DefaultConfig()); err != nil {
		return Check{Name: "config", Status: "fail", Message: fmt.Sprintf("parse: %v", err), Path: path}
	}
	return Check{Name: "config", Status: "pass", Message: "parsed", Path: path}
}
