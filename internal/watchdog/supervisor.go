package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

// Prober checks whether the stream daemon answers. *client.Client
// implements it.
type Prober interface {
	Probe(ctx context.Context) error
}

// Child is the supervised process handle. *Process implements it.
type Child interface {
	Start(ctx context.Context) (int, error)
	Terminate(grace time.Duration)
	PID() int
}

// RestartSink persists restart records. *db.Store implements it.
type RestartSink interface {
	InsertRestart(ctx context.Context, restart model.RestartRecord) error
}

type Supervisor struct {
	cfg    config.Config
	prober Prober
	child  Child
	sink   RestartSink
	logger *slog.Logger

	state HealthState
	now   func() time.Time
}

func NewSupervisor(cfg config.Config, prober Prober, child Child, sink RestartSink, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		prober: prober,
		child:  child,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Run launches the child, then probes it on every tick until the
// context is cancelled. The child is terminated on the way out.
func (s *Supervisor) Run(ctx context.Context) error {
	if pid, err := s.child.Start(ctx); err != nil {
		return err
	} else {
		s.logger.Info("stream daemon started", "pid", pid)
	}
	defer s.child.Terminate(2 * time.Second)

	s.Tick(ctx)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one probe-and-maybe-restart cycle.
func (s *Supervisor) Tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	err := s.prober.Probe(probeCtx)
	cancel()

	now := s.now().UTC()
	s.state = NextHealth(s.cfg, s.state, err == nil, now)
	if err != nil {
		s.logger.Warn("stream daemon probe failed",
			"error", err, "health", string(s.state.Current), "failures", s.state.ConsecutiveFailures)
	}
	if s.state.Current != HealthDown {
		return
	}
	s.restart(ctx, now, err)
}

func (s *Supervisor) restart(ctx context.Context, now time.Time, probeErr error) {
	previousPID := int64(s.child.PID())
	s.child.Terminate(2 * time.Second)
	newPID64 := int64(0)
	if pid, err := s.child.Start(ctx); err != nil {
		s.logger.Error("stream daemon relaunch failed", "error", err)
	} else {
		newPID64 = int64(pid)
		s.logger.Info("stream daemon restarted", "old_pid", previousPID, "new_pid", pid)
	}

	record := model.RestartRecord{
		RestartID:  uuid.NewString(),
		ObservedAt: now,
	}
	if probeErr != nil {
		record.ProbeError = probeErr.Error()
	}
	if previousPID > 0 {
		record.PreviousPID = &previousPID
	}
	if newPID64 > 0 {
		record.NewPID = &newPID64
	}
	if s.sink != nil {
		if err := s.sink.InsertRestart(ctx, record); err != nil {
			s.logger.Warn("record restart", "error", err)
		}
	}

	// A restart consumes the failure streak; the next probes decide
	// whether the replacement is healthy.
	s.state = HealthState{Current: HealthDegraded, LastTransitionAt: now}
}
