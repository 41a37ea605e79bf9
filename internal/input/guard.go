package input

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

var (
	ErrKilled      = errors.New("kill switch engaged")
	ErrNotArmed    = errors.New("not armed")
	ErrRateLimited = errors.New("rate limited")
)

type GuardConfig struct {
	TTLDefault   time.Duration
	TTLMin       time.Duration
	TTLMax       time.Duration
	ActionLimit  int
	ActionWindow time.Duration
}

func (c *GuardConfig) defaults() {
	if c.TTLDefault <= 0 {
		c.TTLDefault = 30 * time.Second
	}
	if c.TTLMin <= 0 {
		c.TTLMin = 5 * time.Second
	}
	if c.TTLMax <= 0 {
		c.TTLMax = 300 * time.Second
	}
	if c.ActionLimit <= 0 {
		c.ActionLimit = 20
	}
	if c.ActionWindow <= 0 {
		c.ActionWindow = 10 * time.Second
	}
}

// Guard gates the free-form injection endpoints. Arming hands out a
// short-lived token; the kill switch overrides everything until an
// explicitly confirmed reset; actions are rate limited to stop runaway
// loops; pointer coordinates are clamped into an optional scope
// rectangle.
type Guard struct {
	cfg GuardConfig
	now func() time.Time

	mu            sync.Mutex
	armedUntil    time.Time
	token         string
	killed        bool
	windowStart   time.Time
	windowActions int
	scope         *model.Region
}

func NewGuard(cfg GuardConfig) *Guard {
	cfg.defaults()
	return &Guard{cfg: cfg, now: time.Now}
}

// Arm grants a fresh token for the clamped TTL. Arming while killed is
// refused; the kill switch must be reset first.
func (g *Guard) Arm(ttl time.Duration) (string, time.Duration, error) {
	if ttl <= 0 {
		ttl = g.cfg.TTLDefault
	}
	if ttl < g.cfg.TTLMin {
		ttl = g.cfg.TTLMin
	}
	if ttl > g.cfg.TTLMax {
		ttl = g.cfg.TTLMax
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed {
		return "", 0, ErrKilled
	}
	g.token = uuid.NewString()
	g.armedUntil = g.now().Add(ttl)
	g.windowStart = time.Time{}
	g.windowActions = 0
	return g.token, ttl, nil
}

func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
	g.armedUntil = time.Time{}
	g.windowStart = time.Time{}
	g.windowActions = 0
}

// Kill engages the kill switch and drops any live arming.
func (g *Guard) Kill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = true
	g.token = ""
	g.armedUntil = time.Time{}
	g.windowStart = time.Time{}
	g.windowActions = 0
}

func (g *Guard) ResetKill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
}

func (g *Guard) SetScope(scope *model.Region) error {
	if scope != nil {
		if err := scope.Validate(); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if scope == nil {
		g.scope = nil
	} else {
		copied := *scope
		g.scope = &copied
	}
	return nil
}

type GuardStatus struct {
	Killed        bool
	Armed         bool
	ExpiresAt     time.Time
	WindowActions int
	Scope         *model.Region
}

func (g *Guard) Status() GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := GuardStatus{
		Killed:        g.killed,
		Armed:         g.token != "" && g.now().Before(g.armedUntil),
		WindowActions: g.windowActions,
	}
	if status.Armed {
		status.ExpiresAt = g.armedUntil
	}
	if g.scope != nil {
		copied := *g.scope
		status.Scope = &copied
	}
	return status
}

// Authorize consumes one action slot for the given token. Order
// matters: the kill switch wins over arming, arming over rate limits.
func (g *Guard) Authorize(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed {
		return ErrKilled
	}
	now := g.now()
	if g.token == "" || token != g.token || now.After(g.armedUntil) {
		return ErrNotArmed
	}
	if g.windowStart.IsZero() || now.Sub(g.windowStart) > g.cfg.ActionWindow {
		g.windowStart = now
		g.windowActions = 0
	}
	if g.windowActions >= g.cfg.ActionLimit {
		return ErrRateLimited
	}
	g.windowActions++
	return nil
}

// ClampPoint confines pointer coordinates to the scope rectangle when
// one is set.
func (g *Guard) ClampPoint(x, y int) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope == nil {
		return x, y
	}
	return g.scope.ClampPoint(x, y)
}
