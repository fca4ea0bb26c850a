package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/directory/internal/domain"
)

// ErrInjected is returned by every call while FailCalls is set.
var ErrInjected = errors.New("memory repository: injected failure")

type scanKey struct {
	scanner    string
	instanceID int64
}

// Repository keeps instances, checks and scans in process. It implements
// domain.Repository for tests and for running without a database.
type Repository struct {
	mu        sync.RWMutex
	instances map[int64]domain.Instance // ID -> Instance, aggregates left zero
	byURL     map[string]int64          // canonical URL -> ID
	checks    []domain.Check
	scans     map[scanKey]domain.Scan
	nextID    int64

	// FailCalls makes every method return ErrInjected.
	FailCalls bool
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository creates an empty repository
func NewRepository() *Repository {
	return &Repository{
		instances: make(map[int64]domain.Instance),
		byURL:     make(map[string]int64),
		scans:     make(map[scanKey]domain.Scan),
	}
}

func (r *Repository) fail() error {
	if r.FailCalls {
		return ErrInjected
	}
	return nil
}

// ListInstances returns instances with their uptime and observatory rating.
func (r *Repository) ListInstances(_ context.Context, opts domain.ListOptions) ([]domain.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.fail(); err != nil {
		return nil, err
	}

	up := make(map[int64]int, len(r.instances))
	total := make(map[int64]int, len(r.instances))
	for _, c := range r.checks {
		total[c.InstanceID]++
		if c.Up {
			up[c.InstanceID]++
		}
	}

	out := make([]domain.Instance, 0, len(r.instances))
	for id, inst := range r.instances {
		if total[id] > 0 {
			inst.Uptime = 100 * up[id] / total[id]
		}
		inst.RatingMozillaObservatory = domain.NoRating
		if s, ok := r.scans[scanKey{domain.ScannerMozillaObservatory, id}]; ok {
			inst.RatingMozillaObservatory = s.Rating
		}
		out = append(out, inst)
	}

	switch opts.Order {
	case domain.OrderURL:
		slices.SortFunc(out, func(a, b domain.Instance) int { return strings.Compare(a.URL, b.URL) })
	default:
		domain.Rank(out)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = domain.ListingLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) InsertInstance(_ context.Context, c *domain.Candidate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	if _, exists := r.byURL[c.Instance.URL]; exists {
		return 0, domain.ErrInstanceExists
	}

	r.nextID++
	inst := c.Instance
	inst.ID = r.nextID
	inst.Uptime = 0
	inst.RatingMozillaObservatory = ""
	r.instances[inst.ID] = inst
	r.byURL[inst.URL] = inst.ID
	r.checks = append(r.checks, domain.Check{InstanceID: inst.ID, Up: true, Updated: time.Now()})
	for _, s := range c.Scans {
		s.InstanceID = inst.ID
		r.scans[scanKey{s.Scanner, inst.ID}] = s
	}
	return inst.ID, nil
}

// InsertChecks appends checks, skipping those of unknown instances.
func (r *Repository) InsertChecks(_ context.Context, checks []domain.Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	for _, c := range checks {
		if _, ok := r.instances[c.InstanceID]; ok {
			r.checks = append(r.checks, c)
		}
	}
	return nil
}

func (r *Repository) UpsertScan(_ context.Context, scan domain.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	if _, ok := r.instances[scan.InstanceID]; !ok {
		return nil
	}
	r.scans[scanKey{scan.Scanner, scan.InstanceID}] = scan
	return nil
}

func (r *Repository) UpdateInstance(_ context.Context, id int64, u domain.InstanceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	inst, ok := r.instances[id]
	if !ok {
		return nil
	}
	u.Apply(&inst)
	r.instances[id] = inst
	return nil
}

// DeleteInstance removes the instance with its checks and scans.
func (r *Repository) DeleteInstance(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	r.deleteLocked(id)
	return nil
}

func (r *Repository) deleteLocked(id int64) {
	inst, ok := r.instances[id]
	if !ok {
		return
	}
	delete(r.instances, id)
	delete(r.byURL, inst.URL)
	r.checks = slices.DeleteFunc(r.checks, func(c domain.Check) bool { return c.InstanceID == id })
	for k := range r.scans {
		if k.instanceID == id {
			delete(r.scans, k)
		}
	}
}

func (r *Repository) DeleteChecksOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	before := len(r.checks)
	r.checks = slices.DeleteFunc(r.checks, func(c domain.Check) bool { return c.Updated.Before(cutoff) })
	return int64(before - len(r.checks)), nil
}

// DeleteInstancesWithFailureCountAtLeast removes instances with at least
// threshold stored failed checks.
func (r *Repository) DeleteInstancesWithFailureCountAtLeast(_ context.Context, threshold int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	failures := make(map[int64]int)
	for _, c := range r.checks {
		if !c.Up {
			failures[c.InstanceID]++
		}
	}
	var removed int64
	for id, n := range failures {
		if n >= threshold {
			r.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fail()
}

// ─────────────────────────────────────────────────────────────────
// Inspection helpers
// ─────────────────────────────────────────────────────────────────

// SetFailCalls toggles FailCalls under the lock.
func (r *Repository) SetFailCalls(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailCalls = fail
}

// Checks returns the stored checks of an instance, oldest first.
func (r *Repository) Checks(id int64) []domain.Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Check
	for _, c := range r.checks {
		if c.InstanceID == id {
			out = append(out, c)
		}
	}
	return out
}

// Scan returns the stored scan of an instance for a scanner.
func (r *Repository) Scan(scanner string, id int64) (domain.Scan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scans[scanKey{scanner, id}]
	return s, ok
}

// Count returns the number of stored instances
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
