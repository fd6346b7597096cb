// Package janitor runs periodic cache sweeps on a cron schedule. Caches
// also sweep lazily on write; the janitor just keeps long-idle processes
// from holding expired entries indefinitely.
package janitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper prunes expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

// namedSweeper pairs a sweeper with a label for logging.
type namedSweeper struct {
	name    string
	sweeper Sweeper
}

// Janitor schedules cache sweeps. Each tick runs all registered sweepers;
// a tick that overlaps a still-running one is skipped.
type Janitor struct {
	mu       sync.Mutex
	schedule string
	sweepers []namedSweeper
	cron     *cron.Cron
	running  sync.Mutex
	logger   *slog.Logger
}

// New creates a Janitor with the given five-field cron schedule.
func New(schedule string, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Janitor{schedule: schedule, logger: logger}
}

// Register adds a sweeper under a label. Must be called before Start.
func (j *Janitor) Register(name string, s Sweeper) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sweepers = append(j.sweepers, namedSweeper{name: name, sweeper: s})
}

// Start begins scheduling sweeps. Returns an error for an invalid
// schedule expression.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	j.cron = cron.New(cron.WithParser(parser))

	if _, err := j.cron.AddFunc(j.schedule, j.tick); err != nil {
		return fmt.Errorf("janitor: invalid schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.schedule, "sweepers", len(j.sweepers))
	return nil
}

// Stop shuts the scheduler down, waiting for an in-flight sweep.
func (j *Janitor) Stop(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		<-j.cron.Stop().Done()
		j.logger.Info("janitor stopped")
	}
	return nil
}

func (j *Janitor) tick() {
	// TryLock is atomic: if the previous sweep is still running, skip.
	if !j.running.TryLock() {
		j.logger.Warn("janitor sweep still running, skipping tick")
		return
	}
	defer j.running.Unlock()

	for _, ns := range j.sweepers {
		if pruned := ns.sweeper.Sweep(); pruned > 0 {
			j.logger.Info("janitor pruned expired entries",
				"cache", ns.name,
				"pruned", pruned,
			)
		}
	}
}
