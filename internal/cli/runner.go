// Package cli implements the seeallene command line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/doctor"
	"github.com/Finithe-Phoenix/seeallene/internal/launcher"
)

type Runner struct {
	cfg    config.Config
	nav    *client.Client
	stream *client.Client
	out    io.Writer
	errOut io.Writer
}

func NewRunner(cfg config.Config, out, errOut io.Writer) *Runner {
	return NewRunnerWithClients(cfg, client.New(cfg.NavAddr),
		client.New(cfg.StreamAddr).WithSnapshotTimeout(cfg.SnapshotTimeout), out, errOut)
}

func NewRunnerWithClients(cfg config.Config, nav, stream *client.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{cfg: cfg, nav: nav, stream: stream, out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		r.printUsage()
		return 2
	}
	switch args[0] {
	case "up":
		return r.runUp(ctx, args[1:])
	case "status":
		return r.runStatus(ctx, args[1:])
	case "advance":
		return r.runAdvance(ctx, args[1:])
	case "snapshot":
		return r.runSnapshot(ctx, args[1:])
	case "actions":
		return r.runActions(ctx, args[1:])
	case "hands":
		return r.runHands(ctx, args[1:])
	case "doctor":
		return r.runDoctor(args[1:])
	case "init":
		return r.runInit(args[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", args[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: seeallene <command>

commands:
  up        start the daemons and print endpoints
  status    show daemon status
  advance   advance the mail list by one item
  snapshot  save one screen still to a file
  actions   list recorded advance actions
  hands     manage the guarded input surface
  doctor    check host prerequisites
  init      write a default config file`)
}

func (r *Runner) runUp(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	watchdogBin := fs.String("watchdog-bin", "", "path to seeallene-watchdog")
	navdBin := fs.String("navd-bin", "", "path to seeallene-navd")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	l := launcher.New(r.cfg, launcher.Options{WatchdogBin: *watchdogBin, NavdBin: *navdBin}, r.out, nil)
	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}

	type daemonStatus struct {
		Name   string `json:"name"`
		Addr   string `json:"addr"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	statuses := []daemonStatus{
		{Name: "seeallene-streamd", Addr: r.cfg.StreamAddr},
		{Name: "seeallene-navd", Addr: r.cfg.NavAddr},
	}
	for i, c := range []*client.Client{r.stream, r.nav} {
		if status, err := c.Status(ctx); err != nil {
			statuses[i].Status = "down"
			statuses[i].Error = err.Error()
		} else {
			statuses[i].Status = status.Status
		}
	}

	if *jsonOut {
		return r.printJSON(statuses)
	}
	for _, s := range statuses {
		if s.Error != "" {
			_, _ = fmt.Fprintf(r.out, "%-20s %-16s %s (%s)\n", s.Name, s.Addr, s.Status, s.Error)
		} else {
			_, _ = fmt.Fprintf(r.out, "%-20s %-16s %s\n", s.Name, s.Addr, s.Status)
		}
	}
	return 0
}

func (r *Runner) runAdvance(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("advance", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	resp, err := r.nav.Advance(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(resp)
	}
	if resp.OK {
		_, _ = fmt.Fprintf(r.out, "advanced after %d attempt(s)", resp.Attempts)
	} else {
		_, _ = fmt.Fprintf(r.out, "no change after %d attempt(s)", resp.Attempts)
	}
	if resp.FallbackUsed {
		_, _ = fmt.Fprint(r.out, " (fallback clicks used)")
	}
	_, _ = fmt.Fprintln(r.out)
	if !resp.OK {
		return 1
	}
	return 0
}

func (r *Runner) runSnapshot(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	outPath := fs.String("o", "snapshot.jpg", "output file")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	data, source, err := r.stream.Snapshot(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.out, "wrote %s (%d bytes, %s)\n", *outPath, len(data), source)
	if source != "live" {
		return 1
	}
	return 0
}

func (r *Runner) runActions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("actions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "max rows")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	env, err := r.nav.Actions(ctx, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	if len(env.Actions) == 0 {
		_, _ = fmt.Fprintln(r.out, "no actions recorded")
		return 0
	}
	_, _ = fmt.Fprintf(r.out, "%-36s  %-25s  %-10s  %8s  %8s\n", "ACTION", "REQUESTED", "OUTCOME", "ATTEMPTS", "FALLBACK")
	for _, a := range env.Actions {
		_, _ = fmt.Fprintf(r.out, "%-36s  %-25s  %-10s  %8d  %8t\n",
			a.ActionID, a.RequestedAt, a.Outcome, a.Attempts, a.FallbackUsed)
	}
	return 0
}

func (r *Runner) runHands(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: seeallene hands <arm|disarm|kill|reset|status>")
		return 2
	}
	switch args[0] {
	case "arm":
		fs := flag.NewFlagSet("hands arm", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		ttl := fs.Duration("ttl", 0, "arming TTL")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		resp, err := r.nav.Arm(ctx, *ttl)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(r.out, "armed until %s\ntoken: %s\n", resp.ExpiresAt, resp.Token)
		return 0
	case "disarm":
		if err := r.nav.Disarm(ctx); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(r.out, "disarmed")
		return 0
	case "kill":
		if err := r.nav.Kill(ctx); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(r.out, "kill switch engaged")
		return 0
	case "reset":
		if err := r.nav.ResetKill(ctx); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(r.out, "kill switch reset")
		return 0
	case "status":
		resp, err := r.nav.GuardStatus(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 1
		}
		return r.printJSON(resp)
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown hands command: %s\n", args[0])
		return 2
	}
}

func (r *Runner) runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	result := doctor.Run(doctor.Options{Config: r.cfg, ConfigPath: config.Path()})
	if *jsonOut {
		if code := r.printJSON(result); code != 0 {
			return code
		}
	} else {
		for _, c := range result.Checks {
			if c.Path != "" {
				_, _ = fmt.Fprintf(r.out, "%-6s %-14s %s (%s)\n", c.Status, c.Name, c.Message, c.Path)
			} else {
				_, _ = fmt.Fprintf(r.out, "%-6s %-14s %s\n", c.Status, c.Name, c.Message)
			}
		}
	}
	if !result.OK {
		return 1
	}
	return 0
}

const configTemplate = `# seeallene configuration
#
# stream_addr: 127.0.0.1:8765
# nav_addr: 127.0.0.1:8766
# db_path: ~/.local/state/seeallene/seeallene.db
#
# Capture a sub-rectangle instead of the whole screen:
# bbox: {left: 0, top: 0, width: 1920, height: 1080}
#
# capture_command: import
# ocr_langs: spa+eng
#
# Both words of a pair must be on screen for the mail client to count
# as frontmost. Any pair suffices.
# markers:
#   - [archivo, inicio]
#   - [bandeja, entrada]
#
# fingerprint_region: {left: 0.48, top: 0.12, width: 0.50, height: 0.13}
# max_tries: 2
# advance_key: Down
# settle_ms: 1200
# fallback_settle_ms: 1500
# fps: 5
# quality: 60
`

func (r *Runner) runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	path := config.Path()
	if _, err := os.Stat(path); err == nil && !*force {
		_, _ = fmt.Fprintf(r.errOut, "config already exists at %s (use -force to overwrite)\n", path)
		return 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.out, "wrote %s\n", path)
	return 0
}

func (r *Runner) printJSON(payload any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	return 0
}
