// Package snapshot exports the record document to timestamped JSON
// files on a cron schedule. Snapshots are the recovery path for the
// destructive-reseed case: a corrupted live document can be restored
// from the last export by hand.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"clinicore/internal/config"
	"clinicore/internal/errors"
	"clinicore/internal/metrics"
	"clinicore/internal/records"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const filePrefix = "clinicore-"

// Runner schedules and performs document exports.
type Runner struct {
	store  *records.Store
	cfg    config.SnapshotConfig
	logger *zap.Logger
	cron   *cron.Cron
	mu     sync.Mutex
}

// NewRunner creates a runner. Call Start to arm the schedule; Run works
// without Start for one-shot exports.
func NewRunner(store *records.Store, cfg config.SnapshotConfig, logger *zap.Logger) *Runner {
	return &Runner{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Start arms the cron schedule.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("snapshot runner already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.Run(); err != nil {
			r.logger.Error("Scheduled snapshot failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", r.cfg.Schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.Info("Snapshot schedule armed",
		zap.String("schedule", r.cfg.Schedule),
		zap.String("dir", r.cfg.Dir))
	return nil
}

// Stop disarms the schedule and waits for a running export to finish.
// The wait happens outside r.mu: a running job prunes under the same
// mutex, so holding it here would deadlock the shutdown.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Run exports the current document and prunes old snapshots. Returns
// the path of the written file.
func (r *Runner) Run() (string, error) {
	raw, err := r.store.ExportDocument()
	if err != nil {
		metrics.RecordSnapshot(false)
		return "", errors.Wrap(err, "SNAP_001", "snapshot export failed")
	}

	if err := os.MkdirAll(r.cfg.Dir, 0755); err != nil {
		metrics.RecordSnapshot(false)
		return "", errors.Wrap(err, "SNAP_001", "snapshot export failed")
	}

	name := filePrefix + time.Now().Format("20060102-150405") + ".json"
	path := filepath.Join(r.cfg.Dir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		metrics.RecordSnapshot(false)
		return "", errors.Wrap(err, "SNAP_001", "snapshot export failed")
	}

	metrics.RecordSnapshot(true)
	r.logger.Info("Snapshot written",
		zap.String("path", path),
		zap.Int("bytes", len(raw)))

	if err := r.prune(); err != nil {
		r.logger.Warn("Snapshot pruning failed", zap.Error(err))
	}
	return path, nil
}

// UpdateRetention changes how many snapshot files prune keeps. Applied
// on config reload.
func (r *Runner) UpdateRetention(keep int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if keep > 0 {
		r.cfg.Keep = keep
	}
}

// prune keeps the newest cfg.Keep snapshots and removes the rest.
// Keep <= 0 disables pruning.
func (r *Runner) prune() error {
	r.mu.Lock()
	keep := r.cfg.Keep
	r.mu.Unlock()
	if keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(r.cfg.Dir, name)); err != nil {
			return err
		}
	}
	return nil
}
