package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
	"github.com/banshee-data/ndt-mapping/internal/timeutil"
)

// RunnerConfig controls the scan worker.
type RunnerConfig struct {
	// QueueSize is the number of scans that may wait for the worker. When
	// the mailbox is full the oldest waiting scan is dropped. Default: 1.
	QueueSize int

	// SnapshotInterval is how often the map is persisted when it has
	// changed. Zero persists only at shutdown.
	SnapshotInterval time.Duration
}

// RunnerStats counts the worker's activity.
type RunnerStats struct {
	Submitted uint64
	Dropped   uint64
	Processed uint64
	Failed    uint64
	Saves     uint64
}

// Runner feeds scans to a Localizer from a single worker goroutine.
type Runner struct {
	loc     *Localizer
	cfg     RunnerConfig
	clock   timeutil.Clock
	persist MapPersister

	mailbox chan scan.Cloud

	submitted atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	saves     atomic.Uint64

	// Worker-owned.
	savedRevision uint64
}

// NewRunner returns a Runner. persist may be nil; clock nil uses the wall
// clock.
func NewRunner(loc *Localizer, cfg RunnerConfig, persist MapPersister, clock timeutil.Clock) *Runner {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if isNilInterface(persist) {
		persist = nil
	}
	r := &Runner{
		loc:     loc,
		cfg:     cfg,
		clock:   clock,
		persist: persist,
		mailbox: make(chan scan.Cloud, cfg.QueueSize),
	}
	// A resumed map is already persisted.
	r.savedRevision = loc.Map().State().Revision
	return r
}

// Submit queues cloud for processing without blocking. If the mailbox is
// full the oldest waiting scan is discarded to make room; Submit reports
// whether anything was dropped.
func (r *Runner) Submit(cloud scan.Cloud) (dropped bool) {
	r.submitted.Add(1)
	for {
		select {
		case r.mailbox <- cloud:
			return dropped
		default:
		}
		// Full: evict the oldest. The worker may have taken it first, in
		// which case the retry simply succeeds.
		select {
		case <-r.mailbox:
			r.dropped.Add(1)
			dropped = true
			opsf("scan mailbox full; dropped oldest scan (total %d)", r.dropped.Load())
		default:
		}
	}
}

// Stats returns the worker's counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Submitted: r.submitted.Load(),
		Dropped:   r.dropped.Load(),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Saves:     r.saves.Load(),
	}
}

// Run processes scans until ctx is cancelled, then persists the map one
// last time. It returns the final persistence error, if any.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.cfg.SnapshotInterval > 0 && r.persist != nil {
		ticker := r.clock.NewTicker(r.cfg.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	diagf("scan worker started (queue %d, snapshot every %v)", r.cfg.QueueSize, r.cfg.SnapshotInterval)
	for {
		select {
		case <-ctx.Done():
			err := r.save()
			diagf("scan worker stopped: %+v", r.Stats())
			return err
		case cloud := <-r.mailbox:
			r.process(ctx, cloud)
		case <-tick:
			if err := r.save(); err != nil {
				opsf("periodic map save: %v", err)
			}
		}
	}
}

func (r *Runner) process(ctx context.Context, cloud scan.Cloud) {
	if _, err := r.loc.ProcessScan(ctx, cloud); err != nil {
		r.failed.Add(1)
		opsf("scan at %v failed: %v", cloud.Stamp, err)
		return
	}
	r.processed.Add(1)
}

// save persists the map if it changed since the last save.
func (r *Runner) save() error {
	if r.persist == nil {
		return nil
	}
	st := r.loc.Map().State()
	if st.Revision == r.savedRevision || len(st.Points) == 0 {
		return nil
	}
	if err := r.persist.SaveMap(st); err != nil {
		return fmt.Errorf("pipeline: save map: %w", err)
	}
	r.savedRevision = st.Revision
	r.saves.Add(1)
	diagf("map saved: %d points, %d fused scans (rev %d)", len(st.Points), st.FusedCount, st.Revision)
	return nil
}
