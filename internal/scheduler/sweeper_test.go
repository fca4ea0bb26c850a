package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/probe"
	"github.com/MrSnakeDoc/directory/internal/store/memory"
)

type countingCache struct {
	invalidations atomic.Int32
}

func (c *countingCache) Invalidate() { c.invalidations.Add(1) }

// fakeValidator answers per URL; unknown URLs validate unchanged.
type fakeValidator struct {
	mu        sync.Mutex
	results   map[string]func(domain.Instance) (*domain.Candidate, error)
	stored    map[string]domain.Instance
	rating    string
	rateCalls int
}

func (v *fakeValidator) ValidateVariant(_ context.Context, url string, _ domain.Variant) (*domain.Candidate, error) {
	v.mu.Lock()
	fn, ok := v.results[url]
	inst := v.stored[url]
	v.mu.Unlock()
	if ok {
		return fn(inst)
	}
	return &domain.Candidate{Instance: inst, Scans: []domain.Scan{domain.NewObservatoryScan(inst.RatingMozillaObservatory)}}, nil
}

func (v *fakeValidator) Rate(context.Context, string) domain.Scan {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rateCalls++
	return domain.NewObservatoryScan(v.rating)
}

func seedRepo(t *testing.T, repo *memory.Repository, urls ...string) map[string]domain.Instance {
	t.Helper()
	out := make(map[string]domain.Instance, len(urls))
	for _, u := range urls {
		c := &domain.Candidate{
			Instance: domain.Instance{URL: u, Version: "1.7.1", HTTPS: true, HTTPSRedirect: true, CSPHeader: true, CountryID: "CH"},
			Scans:    []domain.Scan{domain.NewObservatoryScan("A")},
		}
		id, err := repo.InsertInstance(context.Background(), c)
		if err != nil {
			t.Fatalf("InsertInstance(%s) error = %v", u, err)
		}
		inst := c.Instance
		inst.ID = id
		inst.RatingMozillaObservatory = "A"
		out[u] = inst
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestSweeper_CheckUp_OneUnreachable(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	up1 := httptest.NewServer(ok)
	defer up1.Close()
	up2 := httptest.NewServer(ok)
	defer up2.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	gone := httptest.NewServer(ok)
	goneURL := gone.URL
	gone.Close()

	repo := memory.NewRepository()
	stored := seedRepo(t, repo, up1.URL, up2.URL, broken.URL, goneURL)
	cache := &countingCache{}

	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Prober:     probe.NewClient(probe.Options{Timeout: 2 * time.Second}),
		Cache:      cache,
		Logger:     logger.Nop(),
		Workers:    2,
	})
	report, err := s.CheckUp(context.Background())
	if err != nil {
		t.Fatalf("CheckUp() error = %v", err)
	}
	if report.Instances != 4 || report.Up != 2 || report.Down != 2 {
		t.Errorf("report = %+v, want 4 instances, 2 up, 2 down", report)
	}

	for url, inst := range stored {
		checks := repo.Checks(inst.ID)
		// first check from the insert plus the sweep's one
		if len(checks) != 2 {
			t.Fatalf("%s has %d checks, want 2", url, len(checks))
		}
		wantUp := url == up1.URL || url == up2.URL
		if got := checks[1].Up; got != wantUp {
			t.Errorf("%s up = %v, want %v", url, got, wantUp)
		}
	}
	if cache.invalidations.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", cache.invalidations.Load())
	}
}

func TestSweeper_CheckUp_SingleUnreachableHost(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	goneURL := gone.URL
	gone.Close()

	repo := memory.NewRepository()
	urls := []string{ok.URL + "/a", ok.URL + "/b", ok.URL + "/c", goneURL}
	seedRepo(t, repo, urls...)
	before := countChecks(repo, urls)

	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Prober:     probe.NewClient(probe.Options{Timeout: 2 * time.Second}),
	})
	if _, err := s.CheckUp(context.Background()); err != nil {
		t.Fatalf("CheckUp() error = %v", err)
	}

	list, _ := repo.ListInstances(context.Background(), domain.ListOptions{})
	inserted, down := 0, 0
	for _, inst := range list {
		checks := repo.Checks(inst.ID)
		inserted += len(checks) - before[inst.URL]
		if !checks[len(checks)-1].Up {
			down++
		}
	}
	if inserted != len(urls) || down != 1 {
		t.Errorf("inserted %d checks with %d down, want %d with exactly 1 down", inserted, down, len(urls))
	}
}

func countChecks(repo *memory.Repository, urls []string) map[string]int {
	list, _ := repo.ListInstances(context.Background(), domain.ListOptions{})
	out := make(map[string]int, len(list))
	for _, inst := range list {
		out[inst.URL] = len(repo.Checks(inst.ID))
	}
	return out
}

func TestSweeper_CheckUp_InterruptedStoresNothing(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
	}))
	defer slow.Close()

	repo := memory.NewRepository()
	urls := []string{slow.URL + "/a", slow.URL + "/b"}
	seedRepo(t, repo, urls...)
	before := countChecks(repo, urls)

	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Prober:     probe.NewClient(probe.Options{Timeout: 2 * time.Second}),
		Workers:    2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := s.CheckUp(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CheckUp() error = %v, want context.Canceled", err)
	}
	if report.Down != 0 {
		t.Errorf("report.Down = %d, want 0: a cancelled sweep must not see hosts as down", report.Down)
	}
	after := countChecks(repo, urls)
	for _, u := range urls {
		if after[u] != before[u] {
			t.Errorf("%s has %d checks, want %d (nothing stored)", u, after[u], before[u])
		}
	}
}

func TestSweeper_CheckUp_Retention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	repo := memory.NewRepository()
	inst := seedRepo(t, repo, srv.URL)[srv.URL]

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSweeper(SweeperOptions{
		Repository:    repo,
		Prober:        probe.NewClient(probe.Options{Timeout: 2 * time.Second}),
		Interval:      15 * time.Minute,
		ChecksToStore: 3,
		now:           func() time.Time { return now },
	})
	cutoff := s.RetentionCutoff(now)
	if want := now.Add(-30 * time.Minute); !cutoff.Equal(want) {
		t.Fatalf("RetentionCutoff() = %v, want %v", cutoff, want)
	}

	// The insert's first check carries the wall clock, far after now.
	if err := repo.InsertChecks(context.Background(), []domain.Check{
		{InstanceID: inst.ID, Up: true, Updated: cutoff.Add(-time.Second)},
		{InstanceID: inst.ID, Up: true, Updated: cutoff},
	}); err != nil {
		t.Fatal(err)
	}

	report, err := s.CheckUp(context.Background())
	if err != nil {
		t.Fatalf("CheckUp() error = %v", err)
	}
	if report.ChecksPruned != 1 {
		t.Errorf("ChecksPruned = %d, want 1", report.ChecksPruned)
	}
	if n := len(repo.Checks(inst.ID)); n != 3 {
		t.Errorf("checks left = %d, want 3", n)
	}
}

func TestSweeper_CheckUp_ListFailure(t *testing.T) {
	repo := memory.NewRepository()
	repo.SetFailCalls(true)
	s := NewSweeper(SweeperOptions{Repository: repo, Prober: probe.NewClient(probe.Options{})})
	if _, err := s.CheckUp(context.Background()); !errors.Is(err, memory.ErrInjected) {
		t.Errorf("CheckUp() error = %v, want ErrInjected", err)
	}
}

func TestSweeper_CheckFull_Reconciliation(t *testing.T) {
	const (
		changed   = "https://changed.example"
		optedOut  = "https://opted-out.example"
		notPaste  = "https://not-paste.example"
		down      = "https://down.example"
		pending   = "https://pending.example"
		unchanged = "https://unchanged.example"
	)
	repo := memory.NewRepository()
	stored := seedRepo(t, repo, changed, optedOut, notPaste, down, pending, unchanged)

	validator := &fakeValidator{
		stored: stored,
		rating: "B+",
		results: map[string]func(domain.Instance) (*domain.Candidate, error){
			changed: func(inst domain.Instance) (*domain.Candidate, error) {
				inst.Version = "1.7.2"
				inst.CountryID = "DE"
				return &domain.Candidate{Instance: inst, Scans: []domain.Scan{domain.NewObservatoryScan("A")}}, nil
			},
			optedOut: func(inst domain.Instance) (*domain.Candidate, error) {
				return nil, domain.NotAllowed(inst.URL)
			},
			notPaste: func(inst domain.Instance) (*domain.Candidate, error) {
				return nil, domain.NotThisService(inst.URL, domain.VariantPrivateBin)
			},
			down: func(inst domain.Instance) (*domain.Candidate, error) {
				return nil, domain.Unresponsive(inst.URL, "within 15s")
			},
			pending: func(inst domain.Instance) (*domain.Candidate, error) {
				return &domain.Candidate{Instance: inst, Scans: []domain.Scan{domain.NewObservatoryScan(domain.NoRating)}}, nil
			},
		},
	}
	cache := &countingCache{}
	var graceSleeps atomic.Int32

	s := NewSweeper(SweeperOptions{
		Repository:  repo,
		Validator:   validator,
		Cache:       cache,
		Logger:      logger.Nop(),
		RatingGrace: 5 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			if d != 5*time.Second {
				t.Errorf("grace sleep = %v, want 5s", d)
			}
			graceSleeps.Add(1)
			return nil
		},
	})

	report, err := s.CheckFull(context.Background())
	if err != nil {
		t.Fatalf("CheckFull() error = %v", err)
	}

	if report.Instances != 6 || report.Updated != 1 || report.Removed != 2 || report.Failed != 1 || report.RatingsUpdated != 1 {
		t.Errorf("report = %+v", report)
	}
	if graceSleeps.Load() != 1 || validator.rateCalls != 1 {
		t.Errorf("grace sleeps = %d, rate calls = %d, want 1 and 1", graceSleeps.Load(), validator.rateCalls)
	}

	list, _ := repo.ListInstances(context.Background(), domain.ListOptions{Order: domain.OrderURL})
	got := make(map[string]domain.Instance, len(list))
	for _, inst := range list {
		got[inst.URL] = inst
	}
	if len(got) != 4 {
		t.Fatalf("remaining instances = %v", list)
	}
	if _, ok := got[optedOut]; ok {
		t.Error("robots opted-out instance was kept")
	}
	if _, ok := got[notPaste]; ok {
		t.Error("instance that is no longer the service was kept")
	}
	if inst := got[changed]; inst.Version != "1.7.2" || inst.CountryID != "DE" {
		t.Errorf("changed instance = %+v", inst)
	}
	if _, ok := got[down]; !ok {
		t.Error("unresponsive instance was removed")
	}
	if inst := got[pending]; inst.RatingMozillaObservatory != "B+" {
		t.Errorf("pending rating = %q, want B+ after grace retry", inst.RatingMozillaObservatory)
	}
	if len(repo.Checks(stored[optedOut].ID)) != 0 {
		t.Error("checks of deleted instance survived")
	}
	if cache.invalidations.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", cache.invalidations.Load())
	}
}

func TestSweeper_CheckFull_ChronicFailure(t *testing.T) {
	const (
		chronic = "https://chronic.example"
		healthy = "https://healthy.example"
	)
	repo := memory.NewRepository()
	stored := seedRepo(t, repo, chronic, healthy)

	// The chronic instance validates fine in this sweep, it still goes.
	var checks []domain.Check
	start := time.Now().Add(-time.Hour)
	for i := range DefaultMaxFailures {
		checks = append(checks, domain.Check{InstanceID: stored[chronic].ID, Up: false, Updated: start.Add(time.Duration(i) * time.Second)})
	}
	checks = append(checks, domain.Check{InstanceID: stored[healthy].ID, Up: false, Updated: start})
	if err := repo.InsertChecks(context.Background(), checks); err != nil {
		t.Fatal(err)
	}

	cache := &countingCache{}
	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Validator:  &fakeValidator{stored: stored},
		Cache:      cache,
		sleep:      noSleep,
	})
	report, err := s.CheckFull(context.Background())
	if err != nil {
		t.Fatalf("CheckFull() error = %v", err)
	}
	if report.ChronicRemoved != 1 || report.Unchanged != 2 {
		t.Errorf("report = %+v, want 1 chronic removal and 2 unchanged", report)
	}

	id := stored[chronic].ID
	if len(repo.Checks(id)) != 0 {
		t.Error("checks of the chronic instance survived")
	}
	if _, ok := repo.Scan(domain.ScannerMozillaObservatory, id); ok {
		t.Error("scan of the chronic instance survived")
	}
	if repo.Count() != 1 {
		t.Errorf("Count() = %d, want 1", repo.Count())
	}
	if cache.invalidations.Load() != 1 {
		t.Errorf("invalidations = %d, want 1", cache.invalidations.Load())
	}
}

// failingUpdates rejects UpdateInstance for one instance.
type failingUpdates struct {
	*memory.Repository
	failID int64
}

func (r *failingUpdates) UpdateInstance(ctx context.Context, id int64, u domain.InstanceUpdate) error {
	if id == r.failID {
		return errors.New("database is locked")
	}
	return r.Repository.UpdateInstance(ctx, id, u)
}

func TestSweeper_CheckFull_WriteErrorsDoNotAbort(t *testing.T) {
	const a, b = "https://a.example", "https://b.example"
	mem := memory.NewRepository()
	stored := seedRepo(t, mem, a, b)
	bump := func(inst domain.Instance) (*domain.Candidate, error) {
		inst.Version = "2.0.0"
		return &domain.Candidate{Instance: inst, Scans: []domain.Scan{domain.NewObservatoryScan("A")}}, nil
	}

	s := NewSweeper(SweeperOptions{
		Repository: &failingUpdates{Repository: mem, failID: stored[a].ID},
		Validator: &fakeValidator{stored: stored, results: map[string]func(domain.Instance) (*domain.Candidate, error){
			a: bump, b: bump,
		}},
		sleep: noSleep,
	})
	report, err := s.CheckFull(context.Background())
	if err != nil {
		t.Fatalf("CheckFull() error = %v", err)
	}
	if report.Updated != 1 || report.WriteErrors != 1 {
		t.Errorf("report = %+v, want 1 update and 1 write error", report)
	}
	list, _ := mem.ListInstances(context.Background(), domain.ListOptions{Order: domain.OrderURL})
	if list[0].Version != "1.7.1" || list[1].Version != "2.0.0" {
		t.Errorf("versions = %q, %q", list[0].Version, list[1].Version)
	}
}

func TestSweeper_CheckFull_NoChangeNoInvalidation(t *testing.T) {
	repo := memory.NewRepository()
	stored := seedRepo(t, repo, "https://a.example")
	cache := &countingCache{}
	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Validator:  &fakeValidator{stored: stored},
		Cache:      cache,
		sleep:      noSleep,
	})
	if _, err := s.CheckFull(context.Background()); err != nil {
		t.Fatalf("CheckFull() error = %v", err)
	}
	if cache.invalidations.Load() != 0 {
		t.Errorf("invalidations = %d, want 0", cache.invalidations.Load())
	}
}

func TestSweeper_CheckFull_InterruptedRemovesNothing(t *testing.T) {
	const notPaste = "https://not-paste.example"
	repo := memory.NewRepository()
	stored := seedRepo(t, repo, notPaste)

	ctx, cancel := context.WithCancel(context.Background())
	validator := &fakeValidator{
		stored: stored,
		results: map[string]func(domain.Instance) (*domain.Candidate, error){
			notPaste: func(inst domain.Instance) (*domain.Candidate, error) {
				cancel()
				return nil, domain.NotThisService(inst.URL, domain.VariantPrivateBin)
			},
		},
	}
	s := NewSweeper(SweeperOptions{
		Repository: repo,
		Validator:  validator,
		Logger:     logger.Nop(),
		Workers:    1,
		sleep:      noSleep,
	})

	report, err := s.CheckFull(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CheckFull() error = %v, want context.Canceled", err)
	}
	if report.Removed != 0 {
		t.Errorf("report.Removed = %d, want 0", report.Removed)
	}
	if n := repo.Count(); n != 1 {
		t.Errorf("repository holds %d instances after an interrupted sweep, want 1", n)
	}
}
