package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cmdworker/pkg/logger"
)

// RetentionSweeper deletes archived output files older than a retention
// window, on a cron schedule. Only the local backend needs this; object
// stores handle expiry with lifecycle rules.
type RetentionSweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
}

// NewRetentionSweeper schedules sweeps of dir with a standard 5-field cron
// expression.
func NewRetentionSweeper(dir string, maxAge time.Duration, schedule string) (*RetentionSweeper, error) {
	s := &RetentionSweeper{
		dir:    dir,
		maxAge: maxAge,
		cron:   cron.New(),
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			logger.Error("retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running sweeps on the configured schedule.
func (s *RetentionSweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling. A sweep already in flight runs to completion.
func (s *RetentionSweeper) Stop() {
	s.cron.Stop()
}

// Sweep removes output files older than the retention window and reports
// how many were deleted.
func (s *RetentionSweeper) Sweep() (int, error) {
	cutoff := time.Now().Add(-s.maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		logger.Info("removed expired archived output",
			zap.Int("files", removed),
			zap.String("dir", s.dir),
		)
	}
	return removed, nil
}
