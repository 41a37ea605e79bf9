// Package launcher starts the full daemon set for one desktop session.
package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/config"
)

// Options names the daemon binaries. Empty paths resolve to binaries
// next to the current executable, falling back to PATH.
type Options struct {
	WatchdogBin string
	NavdBin     string
}

type Launcher struct {
	cfg    config.Config
	opts   Options
	out    io.Writer
	logger *slog.Logger
}

func New(cfg config.Config, opts Options, out io.Writer, logger *slog.Logger) *Launcher {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, opts: opts, out: out, logger: logger}
}

// Run starts the watchdog (which owns the stream daemon) and the
// navigation daemon, then blocks until the context is cancelled or a
// child exits. All children are stopped on the way out.
func (l *Launcher) Run(ctx context.Context) error {
	watchdogBin := resolveBin(l.opts.WatchdogBin, "seeallene-watchdog")
	navdBin := resolveBin(l.opts.NavdBin, "seeallene-navd")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan error, 2)
	children := make([]*exec.Cmd, 0, 2)
	for _, bin := range []string{watchdogBin, navdBin} {
		cmd := exec.CommandContext(runCtx, bin)
		cmd.Env = os.Environ()
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = 3 * time.Second
		if err := cmd.Start(); err != nil {
			cancel()
			stop(children)
			return fmt.Errorf("start %s: %w", bin, err)
		}
		l.logger.Info("daemon started", "bin", bin, "pid", cmd.Process.Pid)
		children = append(children, cmd)
		go func(c *exec.Cmd, name string) {
			err := c.Wait()
			exited <- fmt.Errorf("%s exited: %w", name, err)
		}(cmd, bin)
	}

	fmt.Fprintf(l.out, "stream:   http://%s/stream\n", l.cfg.StreamAddr)
	fmt.Fprintf(l.out, "snapshot: http://%s/snapshot.jpg\n", l.cfg.StreamAddr)
	fmt.Fprintf(l.out, "advance:  http://%s/advance\n", l.cfg.NavAddr)
	fmt.Fprintf(l.out, "actions:  http://%s/actions\n", l.cfg.NavAddr)

	select {
	case <-ctx.Done():
		cancel()
		stop(children)
		return ctx.Err()
	case err := <-exited:
		cancel()
		stop(children)
		return err
	}
}

func stop(children []*exec.Cmd) {
	for _, cmd := range children {
		if cmd.Process == nil {
			continue
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	deadline := time.Now().Add(3 * time.Second)
	for _, cmd := range children {
		for time.Now().Before(deadline) && cmd.ProcessState == nil {
			time.Sleep(50 * time.Millisecond)
		}
		if cmd.ProcessState == nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// resolveBin prefers a sibling of the current executable so an
// installed tree works without PATH setup.
func resolveBin(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), name)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	return name
}
