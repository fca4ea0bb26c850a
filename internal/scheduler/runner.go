package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
)

// ErrSweepRunning is returned by Trigger when the sweep is already running.
var ErrSweepRunning = errors.New("sweep already running")

// SweepFunc is one of the Sweeper methods.
type SweepFunc func(ctx context.Context) (Report, error)

// Runner runs a sweep on a ticker and on manual triggers. A sweep that is
// still running when the next tick or trigger arrives is not started twice.
type Runner struct {
	name          string
	sweep         SweepFunc
	interval      time.Duration
	logger        logger.Logger
	manualTrigger chan struct{}
	stopCh        chan struct{}
	stopOnce      sync.Once
	running       atomic.Bool

	mu       sync.RWMutex
	last     Report
	lastErr  error
	lastDone time.Time
}

// NewRunner creates a runner for sweep every interval
func NewRunner(name string, sweep SweepFunc, interval time.Duration, log logger.Logger) *Runner {
	return &Runner{
		name:          name,
		sweep:         sweep,
		interval:      interval,
		logger:        log.With(logger.String("sweep", name)),
		manualTrigger: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

func (r *Runner) Name() string { return r.name }

// Start begins the periodic sweeps. The first one runs after one interval.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-r.manualTrigger:
				r.logger.Info("manual sweep triggered")
				r.RunOnce(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the runner. A sweep in progress finishes on its own.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Trigger asks the runner loop for a sweep now.
func (r *Runner) Trigger() error {
	if r.running.Load() {
		return ErrSweepRunning
	}
	select {
	case r.manualTrigger <- struct{}{}:
	default:
		// One is already pending.
	}
	return nil
}

// RunOnce runs the sweep in the calling goroutine. It returns false when
// another run was in progress and this one was skipped.
func (r *Runner) RunOnce(ctx context.Context) (Report, bool) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("sweep still running, skipping")
		return Report{}, false
	}
	defer r.running.Store(false)

	r.logger.Info("sweep started")
	report, err := r.sweep(ctx)

	r.mu.Lock()
	r.last, r.lastErr, r.lastDone = report, err, time.Now()
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("sweep failed",
			logger.Duration("elapsed", report.Duration),
			logger.Error(err))
		return report, true
	}
	r.logger.Info("sweep completed",
		logger.Int("instances", report.Instances),
		logger.Int("up", report.Up),
		logger.Int("down", report.Down),
		logger.Int("updated", report.Updated),
		logger.Int("ratings_updated", report.RatingsUpdated),
		logger.Int("failed", report.Failed),
		logger.Int("removed", report.Removed),
		logger.Int64("chronic_removed", report.ChronicRemoved),
		logger.Int("write_errors", report.WriteErrors),
		logger.Duration("elapsed", report.Duration))
	return report, true
}

// Running reports whether a sweep is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// RunStatus describes the runner state for the admin API.
type RunStatus struct {
	Sweep    string    `json:"sweep"`
	Running  bool      `json:"running"`
	Finished time.Time `json:"finished,omitzero"` // zero before the first sweep
	Error    string    `json:"error,omitempty"`
	Last     *Report   `json:"last,omitempty"`
}

func (r *Runner) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RunStatus{Sweep: r.name, Running: r.running.Load(), Finished: r.lastDone}
	if !r.lastDone.IsZero() {
		last := r.last
		st.Last = &last
	}
	if r.lastErr != nil {
		st.Error = r.lastErr.Error()
	}
	return st
}
