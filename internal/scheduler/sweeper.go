package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/metrics"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

// Sweep names, also used as metric labels and in the trigger route.
const (
	SweepCheckUp   = "check-up"
	SweepCheckFull = "check-full"
)

const (
	// DefaultInterval is the spacing of liveness sweeps, and the unit of the
	// check retention window.
	DefaultInterval = 15 * time.Minute
	// DefaultChecksToStore is how many liveness samples per instance are kept.
	DefaultChecksToStore = 100
	// DefaultMaxFailures removes instances with this many stored failed checks.
	DefaultMaxFailures = 90
	// DefaultRatingGrace is the wait before asking for a pending rating again.
	DefaultRatingGrace = 5 * time.Second
	// DefaultWorkers caps concurrent probes per sweep.
	DefaultWorkers = 32
)

// Prober issues the liveness HEAD request.
type Prober interface {
	Head(ctx context.Context, url string) (*http.Response, error)
}

// InstanceValidator re-runs the validation pipeline on stored instances.
type InstanceValidator interface {
	ValidateVariant(ctx context.Context, url string, variant domain.Variant) (*domain.Candidate, error)
	Rate(ctx context.Context, url string) domain.Scan
}

// Invalidator is told when the listing changed.
type Invalidator interface {
	Invalidate()
}

type SweeperOptions struct {
	Repository    domain.Repository
	Prober        Prober
	Validator     InstanceValidator
	Cache         Invalidator // optional
	Logger        logger.Logger
	Workers       int
	Interval      time.Duration
	ChecksToStore int
	MaxFailures   int
	RatingGrace   time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Sweeper runs the liveness and full re-validation sweeps over every listed
// instance. Probing is concurrent, repository writes happen afterwards from
// a single goroutine.
type Sweeper struct {
	repo          domain.Repository
	prober        Prober
	validator     InstanceValidator
	cache         Invalidator
	logger        logger.Logger
	workers       int
	interval      time.Duration
	checksToStore int
	maxFailures   int
	ratingGrace   time.Duration
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
}

func NewSweeper(opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		repo:          opts.Repository,
		prober:        opts.Prober,
		validator:     opts.Validator,
		cache:         opts.Cache,
		logger:        opts.Logger,
		workers:       opts.Workers,
		interval:      opts.Interval,
		checksToStore: opts.ChecksToStore,
		maxFailures:   opts.MaxFailures,
		ratingGrace:   opts.RatingGrace,
		now:           opts.now,
		sleep:         opts.sleep,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.checksToStore <= 0 {
		s.checksToStore = DefaultChecksToStore
	}
	if s.maxFailures <= 0 {
		s.maxFailures = DefaultMaxFailures
	}
	if s.ratingGrace < 0 {
		s.ratingGrace = 0
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	return s
}

// Report summarises one sweep.
type Report struct {
	Sweep     string        `json:"sweep"`
	Instances int           `json:"instances"`
	Duration  time.Duration `json:"duration"`

	// check-up
	Up           int   `json:"up,omitempty"`
	Down         int   `json:"down,omitempty"`
	ChecksPruned int64 `json:"checks_pruned,omitempty"`

	// check-full
	Updated        int   `json:"updated,omitempty"`
	Unchanged      int   `json:"unchanged,omitempty"`
	RatingsUpdated int   `json:"ratings_updated,omitempty"`
	Failed         int   `json:"failed,omitempty"`
	Removed        int   `json:"removed,omitempty"`
	ChronicRemoved int64 `json:"chronic_removed,omitempty"`

	// WriteErrors counts repository calls that failed during reconciliation.
	WriteErrors int `json:"write_errors,omitempty"`
}

// RetentionCutoff returns the oldest check timestamp that survives a
// liveness sweep finishing at now.
func (s *Sweeper) RetentionCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(s.checksToStore-1) * s.interval)
}

// ─────────────────────────────────────────────────────────────────
// Liveness sweep
// ─────────────────────────────────────────────────────────────────

type upResult struct {
	instance domain.Instance
	up       bool
	elapsed  time.Duration
}

// CheckUp sends one HEAD request per instance and stores one check each,
// then drops the checks that fell out of the retention window.
func (s *Sweeper) CheckUp(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Sweep: SweepCheckUp}
	defer func() {
		report.Duration = time.Since(start)
		metrics.SweepDuration.WithLabelValues(SweepCheckUp).Observe(report.Duration.Seconds())
	}()

	instances, err := s.repo.ListInstances(ctx, domain.ListOptions{Order: domain.OrderRanked})
	if err != nil {
		return report, fmt.Errorf("failed retrieving instances: %w", err)
	}
	report.Instances = len(instances)

	checks := make([]domain.Check, 0, len(instances))
	for res := range fanOut(ctx, instances, s.workers, s.probeUp) {
		s.logger.Debug("instance checked",
			logger.String("url", res.instance.URL),
			logger.Bool("up", res.up),
			logger.Duration("elapsed", res.elapsed))
		if res.up {
			report.Up++
			metrics.SweepInstancesTotal.WithLabelValues(SweepCheckUp, "up").Inc()
		} else {
			report.Down++
			metrics.SweepInstancesTotal.WithLabelValues(SweepCheckUp, "down").Inc()
		}
		checks = append(checks, domain.Check{InstanceID: res.instance.ID, Up: res.up})
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("check-up interrupted, no checks stored: %w", err)
	}

	now := s.now()
	for i := range checks {
		checks[i].Updated = now
	}
	if err := s.repo.InsertChecks(ctx, checks); err != nil {
		report.WriteErrors++
		return report, fmt.Errorf("failed to store uptime checks: %w", err)
	}
	s.logger.Info("stored uptime checks",
		logger.Int("up", report.Up),
		logger.Int("down", report.Down))

	cutoff := s.RetentionCutoff(now)
	pruned, err := s.repo.DeleteChecksOlderThan(ctx, cutoff)
	if err != nil {
		report.WriteErrors++
		s.logger.Error("failed to delete old checks", logger.Time("cutoff", cutoff), logger.Error(err))
	} else {
		report.ChecksPruned = pruned
		s.logger.Debug("deleted old checks", logger.Int64("count", pruned), logger.Time("cutoff", cutoff))
	}

	// Uptime aggregates moved.
	s.invalidate()
	return report, nil
}

func (s *Sweeper) probeUp(ctx context.Context, inst domain.Instance) upResult {
	start := time.Now()
	resp, err := s.prober.Head(ctx, inst.URL)
	res := upResult{instance: inst, elapsed: time.Since(start)}
	if err != nil {
		return res
	}
	probe.Drain(resp)
	res.up = resp.StatusCode == http.StatusOK
	return res
}

// ─────────────────────────────────────────────────────────────────
// Full re-validation sweep
// ─────────────────────────────────────────────────────────────────

type fullResult struct {
	instance domain.Instance
	update   *domain.InstanceUpdate
	changes  []domain.FieldChange
	scan     *domain.Scan
	rating   string
	err      error
	elapsed  time.Duration
}

// CheckFull re-validates every instance. Changed attributes and ratings are
// written back, instances that opted out or stopped being the expected
// service are removed, and so are chronically failing ones.
func (s *Sweeper) CheckFull(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Sweep: SweepCheckFull}
	defer func() {
		report.Duration = time.Since(start)
		metrics.SweepDuration.WithLabelValues(SweepCheckFull).Observe(report.Duration.Seconds())
	}()

	instances, err := s.repo.ListInstances(ctx, domain.ListOptions{Order: domain.OrderRanked})
	if err != nil {
		return report, fmt.Errorf("failed retrieving instances: %w", err)
	}
	report.Instances = len(instances)

	var (
		updates   []fullResult
		scans     []fullResult
		terminals []fullResult
	)
	for res := range fanOut(ctx, instances, s.workers, s.recheck) {
		url := res.instance.URL
		switch {
		case domain.IsTerminal(res.err):
			terminals = append(terminals, res)
			s.logger.Info("instance to be removed",
				logger.String("url", url),
				logger.Error(res.err))
			continue
		case res.err != nil:
			report.Failed++
			metrics.SweepInstancesTotal.WithLabelValues(SweepCheckFull, "failed").Inc()
			s.logger.Warn("instance failed to be checked, no update",
				logger.String("url", url),
				logger.Duration("elapsed", res.elapsed),
				logger.Error(res.err))
			continue
		case res.update != nil:
			updates = append(updates, res)
		default:
			report.Unchanged++
			metrics.SweepInstancesTotal.WithLabelValues(SweepCheckFull, "unchanged").Inc()
			s.logger.Debug("instance checked, no update required",
				logger.String("url", url),
				logger.Duration("elapsed", res.elapsed))
		}
		if res.scan != nil {
			scans = append(scans, res)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("full check interrupted, nothing written: %w", err)
	}

	for _, res := range updates {
		if err := s.repo.UpdateInstance(ctx, res.instance.ID, *res.update); err != nil {
			report.WriteErrors++
			s.logger.Error("instance failed to be updated",
				logger.String("url", res.instance.URL),
				logger.Error(err))
			continue
		}
		report.Updated++
		metrics.SweepInstancesTotal.WithLabelValues(SweepCheckFull, "updated").Inc()
		s.logger.Info("instance checked and updated",
			logger.String("url", res.instance.URL),
			logger.String("changes", joinChanges(res.changes)),
			logger.Duration("elapsed", res.elapsed))
	}

	for _, res := range scans {
		if err := s.repo.UpsertScan(ctx, *res.scan); err != nil {
			report.WriteErrors++
			s.logger.Error("instance rating failed to be updated",
				logger.String("url", res.instance.URL),
				logger.Error(err))
			continue
		}
		report.RatingsUpdated++
		s.logger.Info("instance rating updated",
			logger.String("url", res.instance.URL),
			logger.String("rating", res.rating))
	}

	for _, res := range terminals {
		if err := s.repo.DeleteInstance(ctx, res.instance.ID); err != nil {
			report.WriteErrors++
			s.logger.Error("error removing the instance",
				logger.String("url", res.instance.URL),
				logger.Error(err))
			continue
		}
		report.Removed++
		metrics.SweepInstancesTotal.WithLabelValues(SweepCheckFull, "deleted").Inc()
		s.logger.Info("removed the instance",
			logger.String("url", res.instance.URL),
			logger.String("reason", res.err.Error()))
	}

	chronic, err := s.repo.DeleteInstancesWithFailureCountAtLeast(ctx, s.maxFailures)
	if err != nil {
		report.WriteErrors++
		s.logger.Error("error removing instances failing too many times", logger.Error(err))
	} else {
		report.ChronicRemoved = chronic
		if chronic > 0 {
			s.logger.Info("removed instances that failed too many times",
				logger.Int64("count", chronic),
				logger.Int("threshold", s.maxFailures))
		}
	}

	if report.Updated+report.RatingsUpdated+report.Removed > 0 || report.ChronicRemoved > 0 {
		s.invalidate()
	}
	return report, nil
}

func (s *Sweeper) recheck(ctx context.Context, inst domain.Instance) fullResult {
	start := time.Now()
	res := fullResult{instance: inst}

	cand, err := s.validator.ValidateVariant(ctx, inst.URL, inst.Variant)
	if err != nil {
		res.err = err
		res.elapsed = time.Since(start)
		return res
	}

	if changes := domain.Diff(inst, cand.Instance); len(changes) > 0 {
		u := domain.UpdateFrom(cand.Instance)
		res.update = &u
		res.changes = changes
	}

	// A fresh scan may still be running upstream, give it a moment.
	rating := cand.Rating(domain.ScannerMozillaObservatory)
	if rating == domain.NoRating && s.sleep(ctx, s.ratingGrace) == nil {
		rating = s.validator.Rate(ctx, inst.URL).Rating
	}
	res.rating = rating
	if rating != domain.NoRating && rating != inst.RatingMozillaObservatory {
		scan := domain.NewObservatoryScan(rating)
		scan.InstanceID = inst.ID
		res.scan = &scan
	}

	res.elapsed = time.Since(start)
	return res
}

func (s *Sweeper) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}

func joinChanges(changes []domain.FieldChange) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
