package validator

import (
	"context"
	"errors"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/metrics"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

// HostResolver is satisfied by *net.Resolver.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Options struct {
	Client   *probe.Client
	Geo      GeoLookup    // nil => every host is UnknownCountry
	Resolver HostResolver // nil => net.DefaultResolver
	Rater    *Rater       // nil => ratings stay "-"
	Logger   logger.Logger
}

// Validator decides whether a URL is a listable instance and measures it.
// It never writes anything, persistence is up to the caller.
type Validator struct {
	client   *probe.Client
	geo      GeoLookup
	resolver HostResolver
	rater    *Rater
	logger   logger.Logger
}

func New(opts Options) *Validator {
	if opts.Client == nil {
		opts.Client = probe.NewClient(probe.Options{})
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Validator{
		client:   opts.Client,
		geo:      opts.Geo,
		resolver: opts.Resolver,
		rater:    opts.Rater,
		logger:   opts.Logger,
	}
}

// Validate checks rawURL as a PrivateBin instance.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*domain.Candidate, error) {
	return v.ValidateVariant(ctx, rawURL, domain.VariantPrivateBin)
}

// ValidateVariant runs the whole pipeline: scheme check, canonicalization,
// HTTP to HTTPS redirect detection, robots.txt gate, then properties,
// country and rating concurrently. Errors are *domain.Failure values.
func (v *Validator) ValidateVariant(ctx context.Context, rawURL string, variant domain.Variant) (cand *domain.Candidate, err error) {
	defer func() {
		metrics.ValidationsTotal.WithLabelValues(variant.String(), resultLabel(err)).Inc()
	}()

	raw := strings.TrimSpace(rawURL)
	if !domain.HasSupportedScheme(raw) {
		return nil, domain.InvalidURL(raw)
	}
	u := domain.CanonicalURL(raw)

	redirect, err := v.checkRedirect(ctx, u)
	if err != nil {
		return nil, err
	}
	if redirect.url != u {
		v.logger.Debug("adopting https location",
			logger.String("from", u),
			logger.String("to", redirect.url))
		u = redirect.url
	}

	if err := v.checkRobots(ctx, u); err != nil {
		return nil, err
	}

	check, ok := propertyCheckers[variant]
	if !ok {
		return nil, domain.NotThisService(u, variant)
	}

	var (
		props      properties
		propsErr   error
		country    string
		countryErr error
		rating     = domain.NoRating
	)
	var g errgroup.Group
	g.Go(func() error {
		props, propsErr = check(ctx, v.client, u)
		return propsErr
	})
	g.Go(func() error {
		country, countryErr = v.checkCountry(ctx, u)
		return countryErr
	})
	g.Go(func() error {
		rating = v.rate(ctx, u)
		return nil
	})
	_ = g.Wait()

	// The properties failure says more about the instance than a DNS problem.
	if propsErr != nil {
		return nil, propsErr
	}
	if countryErr != nil {
		return nil, countryErr
	}

	v.logger.Debug("instance validated",
		logger.String("url", u),
		logger.String("variant", variant.String()),
		logger.String("version", props.version),
		logger.String("country", country),
		logger.String("rating", rating))

	return &domain.Candidate{
		Instance: domain.Instance{
			URL:           u,
			Version:       props.version,
			HTTPS:         redirect.https,
			HTTPSRedirect: redirect.httpsRedirect,
			CSPHeader:     props.cspHeader,
			Attachments:   props.attachments,
			CountryID:     country,
			Variant:       variant,
		},
		Scans: []domain.Scan{domain.NewObservatoryScan(rating)},
	}, nil
}

// Rate asks the security rating API again, for ratings that were still pending.
func (v *Validator) Rate(ctx context.Context, u string) domain.Scan {
	return domain.NewObservatoryScan(v.rate(ctx, u))
}

func (v *Validator) rate(ctx context.Context, u string) string {
	if v.rater == nil {
		return domain.NoRating
	}
	return v.rater.Rate(ctx, u)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var f *domain.Failure
	if errors.As(err, &f) {
		return f.Kind.Error()
	}
	return "error"
}
