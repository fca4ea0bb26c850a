package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/sources/seed"
)

// Adder registers a validated instance, satisfied by *registry.Registry.
type Adder interface {
	AddVariant(ctx context.Context, url string, variant domain.Variant) (*domain.Instance, error)
}

// Lister is the read side of domain.Repository.
type Lister interface {
	ListInstances(ctx context.Context, opts domain.ListOptions) ([]domain.Instance, error)
}

// Seeder registers the instances of a seed file that are not listed yet.
type Seeder struct {
	loader  *seed.Loader
	repo    Lister
	adder   Adder
	logger  logger.Logger
	workers int
}

// NewSeeder creates a new seeder
func NewSeeder(seedFile string, repo Lister, adder Adder, log logger.Logger, workers int) *Seeder {
	return &Seeder{
		loader:  seed.NewLoader(seedFile),
		repo:    repo,
		adder:   adder,
		logger:  log,
		workers: workers,
	}
}

type seedResult struct {
	seed seed.Seed
	err  error
}

// Seed validates and adds every missing seed. Seeds that fail validation are
// logged and skipped, only an unreadable file or repository fails the call.
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	file, err := s.loader.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load seeds: %w", err)
	}
	seeds, err := seed.Map(file)
	if err != nil {
		s.logger.Warn("skipping invalid seed entries", logger.Error(err))
	}

	listed, err := s.repo.ListInstances(ctx, domain.ListOptions{Order: domain.OrderURL})
	if err != nil {
		return 0, fmt.Errorf("failed retrieving instances: %w", err)
	}
	known := make(map[string]bool, len(listed))
	for _, inst := range listed {
		known[inst.URL] = true
	}

	var missing []seed.Seed
	for _, sd := range seeds {
		if !known[sd.URL] {
			missing = append(missing, sd)
		}
	}
	s.logger.Info("seeding instances",
		logger.Int("seeds", len(seeds)),
		logger.Int("missing", len(missing)))

	added := 0
	results := fanOut(ctx, missing, s.workers, func(ctx context.Context, sd seed.Seed) seedResult {
		_, err := s.adder.AddVariant(ctx, sd.URL, sd.Variant)
		return seedResult{seed: sd, err: err}
	})
	for res := range results {
		switch {
		case res.err == nil:
			added++
			s.logger.Info("seeded instance", logger.String("url", res.seed.URL))
		case errors.Is(res.err, domain.ErrInstanceExists):
			s.logger.Debug("seed already listed", logger.String("url", res.seed.URL))
		default:
			s.logger.Warn("seed failed validation",
				logger.String("url", res.seed.URL),
				logger.Error(res.err))
		}
	}
	return added, nil
}
