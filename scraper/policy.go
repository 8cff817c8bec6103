package scraper

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
)

// DelayPolicy yields the pause taken before each request.
type DelayPolicy interface {
	Next() time.Duration
}

// UniformDelay draws delays uniformly from [Min, Max].
type UniformDelay struct {
	Min time.Duration
	Max time.Duration
}

// Next returns a random delay within the bounds.
func (u UniformDelay) Next() time.Duration {
	if u.Max <= u.Min {
		return u.Min
	}
	return u.Min + rand.N(u.Max-u.Min+1)
}

// FixedDelay always waits the same duration. Zero disables throttling, which
// is only meant for tests.
type FixedDelay time.Duration

// Next returns the fixed delay.
func (f FixedDelay) Next() time.Duration {
	return time.Duration(f)
}

// IdentityPool hands out the identity header value for each request.
type IdentityPool interface {
	Pick() string
}

// FixedIdentity always returns the same identity.
type FixedIdentity string

// Pick returns the fixed identity.
func (f FixedIdentity) Pick() string {
	return string(f)
}

// IdentitySource loads a fresh list of identity strings.
type IdentitySource func(ctx context.Context) ([]string, error)

// StaticSource serves a constant identity list.
func StaticSource(agents []string) IdentitySource {
	list := append([]string(nil), agents...)
	return func(context.Context) ([]string, error) {
		return list, nil
	}
}

// FileSource reads one identity per line from path each time it is called,
// so edits to the file are picked up on the next refresh.
func FileSource(path string) IdentitySource {
	return func(context.Context) ([]string, error) {
		return config.ReadUserAgents(path)
	}
}

// RotatingPool picks identities uniformly at random and reloads the list from
// its source once the refresh interval has passed. A failed reload keeps the
// previous list.
type RotatingPool struct {
	source  IdentitySource
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	agents   []string
	loadedAt time.Time
}

// NewRotatingPool loads the initial identity list from source.
func NewRotatingPool(ctx context.Context, source IdentitySource, refresh time.Duration) (*RotatingPool, error) {
	p := &RotatingPool{
		source:  source,
		refresh: refresh,
		now:     time.Now,
	}
	agents, err := source(ctx)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, errEmptyIdentityPool
	}
	p.agents = agents
	p.loadedAt = p.now()
	return p, nil
}

// Pick returns one identity chosen uniformly at random.
func (p *RotatingPool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refresh > 0 && p.now().Sub(p.loadedAt) >= p.refresh {
		p.reloadLocked()
	}
	return p.agents[rand.IntN(len(p.agents))]
}

func (p *RotatingPool) reloadLocked() {
	p.loadedAt = p.now()
	agents, err := p.source(context.Background())
	if err != nil || len(agents) == 0 {
		slog.Warn("identity pool refresh failed, keeping previous list",
			slog.Int("size", len(p.agents)),
			slog.Any("error", err),
		)
		return
	}
	p.agents = agents
}
