// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retention deletes files once they are older than the configured
// retention period.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fawa-io/filedrop/pkg/catalog"
	"github.com/fawa-io/filedrop/pkg/fwlog"
)

// DefaultBatchSize is how many expired records are fetched per query.
const DefaultBatchSize = 500

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_retention_sweeps_total",
		Help: "Completed retention sweeps.",
	})

	removedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_retention_removed_total",
		Help: "Files removed because they outlived the retention period.",
	})

	failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_retention_failures_total",
		Help: "Expired files that could not be removed and are left for the next sweep.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filedrop_retention_sweep_duration_seconds",
		Help:    "Duration of retention sweeps.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Lister finds records created before a cutoff, oldest first. A batch may
// come back shorter than limit while older records remain.
type Lister interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*catalog.FileRecord, error)
}

// Remover deletes a file's payload and then its record. A failed payload
// delete must leave the record in place.
type Remover interface {
	RemoveRecord(ctx context.Context, rec *catalog.FileRecord) error
}

// Result summarizes one sweep.
type Result struct {
	Cutoff   time.Time
	Removed  int
	Failed   int
	Duration time.Duration
}

type Sweeper struct {
	records   Lister
	remover   Remover
	period    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time

	mu sync.Mutex // one sweep at a time
}

// NewSweeper returns a sweeper removing files older than period every
// interval. A zero period disables it.
func NewSweeper(records Lister, remover Remover, period, interval time.Duration) *Sweeper {
	return &Sweeper{
		records:   records,
		remover:   remover,
		period:    period,
		interval:  interval,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Enabled reports whether a retention period is configured.
func (s *Sweeper) Enabled() bool {
	return s.period > 0 && s.interval > 0
}

// Run sweeps once right away and then on every tick until ctx is done. A
// sweep in progress when ctx is cancelled finishes the file it is on and
// returns, so Run never leaves a half removed file behind.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		fwlog.Info("Retention disabled, files are kept forever")
		return nil
	}
	fwlog.Infof("Retention sweeper started: period=%s interval=%s", s.period, s.interval)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fwlog.Info("Retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce removes every file created before now minus the retention period.
// Failures are logged and counted; the affected records stay and are retried
// by the next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := &Result{Cutoff: s.now().Add(-s.period)}
	failed := make(map[string]struct{})

	for ctx.Err() == nil {
		batch, err := s.records.ListCreatedBefore(ctx, res.Cutoff, s.batchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				fwlog.Errorf("Retention: failed to list expired files: %v", err)
			}
			break
		}

		removed := 0
		for _, rec := range batch {
			if ctx.Err() != nil {
				break
			}
			if _, ok := failed[rec.ID]; ok {
				continue
			}
			// Removal of one file is not interrupted halfway.
			if err := s.remover.RemoveRecord(context.WithoutCancel(ctx), rec); err != nil {
				fwlog.Errorf("Retention: failed to remove %s: %v", rec.ID, err)
				failed[rec.ID] = struct{}{}
				continue
			}
			fwlog.Debugf("Retention: removed %s created %s", rec.Name(), rec.CreatedAt.Format(time.RFC3339))
			removed++
		}
		res.Removed += removed

		if removed == 0 {
			break
		}
	}

	res.Failed = len(failed)
	res.Duration = time.Since(start)

	sweepsTotal.Inc()
	removedTotal.Add(float64(res.Removed))
	failuresTotal.Add(float64(res.Failed))
	sweepDuration.Observe(res.Duration.Seconds())

	fwlog.Infof("Retention sweep done: cutoff=%s removed=%d failed=%d duration=%s",
		res.Cutoff.Format(time.RFC3339), res.Removed, res.Failed, res.Duration)
	return res
}
