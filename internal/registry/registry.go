package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/cache"
	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/metrics"
)

// ErrRecentlyFailed is returned without probing when the same URL failed
// validation a moment ago.
var ErrRecentlyFailed = errors.New("recently failed validation")

type recentFailure struct {
	url string
}

func (e recentFailure) Error() string {
	return fmt.Sprintf("The URL %s failed validation a few minutes ago, please try again later.", e.url)
}

func (e recentFailure) Unwrap() error { return ErrRecentlyFailed }

// Validator is satisfied by *validator.Validator.
type Validator interface {
	ValidateVariant(ctx context.Context, url string, variant domain.Variant) (*domain.Candidate, error)
}

// Directory is satisfied by *cache.DirectoryCache.
type Directory interface {
	Listing(ctx context.Context) []domain.Instance
	Invalidate()
}

type Options struct {
	Repository domain.Repository
	Validator  Validator
	Directory  Directory
	Negative   cache.NegativeLookups
	Logger     logger.Logger
}

// Registry is what the HTTP surface talks to: it checks and adds submitted
// URLs and serves the filtered listing.
type Registry struct {
	repo      domain.Repository
	validator Validator
	directory Directory
	negative  cache.NegativeLookups
	logger    logger.Logger
}

func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Registry{
		repo:      opts.Repository,
		validator: opts.Validator,
		directory: opts.Directory,
		negative:  opts.Negative,
		logger:    opts.Logger,
	}
}

// Check validates a PrivateBin URL without storing it.
func (r *Registry) Check(ctx context.Context, rawURL string) (*domain.Candidate, error) {
	return r.CheckVariant(ctx, rawURL, domain.VariantPrivateBin)
}

// CheckVariant validates rawURL as the given service without storing it.
func (r *Registry) CheckVariant(ctx context.Context, rawURL string, variant domain.Variant) (*domain.Candidate, error) {
	return r.validate(ctx, rawURL, variant)
}

// Add validates a PrivateBin URL and lists it.
func (r *Registry) Add(ctx context.Context, rawURL string) (*domain.Instance, error) {
	return r.AddVariant(ctx, rawURL, domain.VariantPrivateBin)
}

// AddVariant validates rawURL and stores it with its first check and scan.
// A known URL yields domain.ErrInstanceExists.
func (r *Registry) AddVariant(ctx context.Context, rawURL string, variant domain.Variant) (*domain.Instance, error) {
	cand, err := r.validate(ctx, rawURL, variant)
	if err != nil {
		return nil, err
	}

	id, err := r.repo.InsertInstance(ctx, cand)
	if err != nil {
		if !errors.Is(err, domain.ErrInstanceExists) {
			r.logger.Error("failed to store instance",
				logger.String("url", cand.Instance.URL),
				logger.Error(err))
		}
		return nil, err
	}

	inst := cand.Instance
	inst.ID = id
	inst.Uptime = 100
	inst.RatingMozillaObservatory = cand.Rating(domain.ScannerMozillaObservatory)
	r.directory.Invalidate()
	r.logger.Info("instance added",
		logger.String("url", inst.URL),
		logger.String("variant", variant.String()),
		logger.String("version", inst.Version))
	return &inst, nil
}

func (r *Registry) validate(ctx context.Context, rawURL string, variant domain.Variant) (*domain.Candidate, error) {
	raw := strings.TrimSpace(rawURL)
	key := negativeKey(raw, variant)

	if r.negative != nil && r.negative.IsRecentFailure(ctx, key) {
		metrics.NegativeLookupHitsTotal.Inc()
		return nil, recentFailure{url: raw}
	}

	cand, err := r.validator.ValidateVariant(ctx, raw, variant)
	if err != nil {
		// A submitter that went away or timed out says nothing about the URL.
		var failure *domain.Failure
		if r.negative != nil && ctx.Err() == nil && errors.As(err, &failure) {
			r.negative.RecordFailure(ctx, key)
		}
		r.logger.Info("submitted instance failed validation",
			logger.String("url", raw),
			logger.String("variant", variant.String()),
			logger.Error(err))
		return nil, err
	}
	if f, ok := r.negative.(cache.Forgetter); ok {
		if err := f.Forget(ctx, key); err != nil {
			r.logger.Debug("failed to forget negative lookup", logger.String("url", raw), logger.Error(err))
		}
	}
	return cand, nil
}

// negativeKey identifies a submission, so spelling variants of the same
// URL share one entry.
func negativeKey(raw string, variant domain.Variant) string {
	key := raw
	if domain.HasSupportedScheme(raw) {
		key = domain.CanonicalURL(raw)
	}
	if variant != domain.VariantPrivateBin {
		key = variant.String() + "+" + key
	}
	return key
}

// Ping reports whether the repository answers.
func (r *Registry) Ping(ctx context.Context) error {
	return r.repo.Ping(ctx)
}
