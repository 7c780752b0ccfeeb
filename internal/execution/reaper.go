package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/dontdude/codestream/internal/domain"
)

// Reaper removes sandboxes that no live execution owns, such as the ones
// left behind by a crashed process.
type Reaper struct {
	sandbox  domain.Sandbox
	registry *Registry
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReaper creates a reaper that removes unowned sandboxes older than maxAge.
func NewReaper(sandbox domain.Sandbox, registry *Registry, maxAge time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		sandbox:  sandbox,
		registry: registry,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting sandbox reaper", "interval", interval, "maxAge", r.maxAge)
	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep removes every stale unowned sandbox and returns how many it removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	sandboxes, err := r.sandbox.ListSandboxes(ctx)
	if err != nil {
		r.logger.Error("Sandbox sweep failed", "error", err)
		return 0
	}

	removed := 0
	for _, sb := range sandboxes {
		if r.registry.Live(sb.ExecutionID) {
			continue
		}
		if r.now().Sub(sb.CreatedAt) < r.maxAge {
			continue
		}

		r.logger.Warn("Removing orphaned sandbox", "containerID", sb.ContainerID, "executionID", sb.ExecutionID, "age", r.now().Sub(sb.CreatedAt))
		r.sandbox.Destroy(sb.ContainerID)
		removed++
	}

	if removed > 0 {
		r.logger.Info("Reaped orphaned sandboxes", "count", removed)
	}
	return removed
}
