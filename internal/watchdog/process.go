package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process launches and terminates one stream daemon child. The child
// inherits the parent's environment plus any extra variables.
type Process struct {
	bin  string
	args []string
	env  []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewProcess(bin string, args []string, env []string) *Process {
	return &Process{bin: bin, args: args, env: env}
}

func (p *Process) Start(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil && p.cmd.ProcessState == nil {
		return p.cmd.Process.Pid, nil
	}
	cmd := exec.CommandContext(ctx, p.bin, p.args...)
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", p.bin, err)
	}
	p.cmd = cmd
	// Reap the child when it exits on its own so ProcessState is set.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

// Terminate asks the child to exit and falls back to SIGKILL. Errors
// from signalling a process that is already gone are ignored; the whole
// point of terminating is that the process stops existing.
func (p *Process) Terminate(grace time.Duration) {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if cmd.ProcessState != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
}

// PID reports the running child's pid, or 0 when none is running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil || p.cmd.ProcessState != nil {
		return 0
	}
	return p.cmd.Process.Pid
}
