package validator

import (
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/metrics"
	"github.com/MrSnakeDoc/directory/internal/probe"
)

const (
	// DefaultRatingAttempts bounds the calls made for one rating.
	DefaultRatingAttempts = 5
	// maxRatingResponse is the largest API answer we are willing to parse.
	maxRatingResponse = 10 << 10
)

// DelayRange is a jittered wait, uniformly picked in [Min, Max).
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (d DelayRange) pick() time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + rand.N(d.Max-d.Min)
}

var (
	DefaultPendingDelay = DelayRange{Min: 500 * time.Millisecond, Max: 3 * time.Second}
	DefaultErrorDelay   = DelayRange{Min: 2 * time.Second, Max: 5 * time.Second}
)

type RaterOptions struct {
	Endpoint     string        // scan endpoint, the host is passed as ?host=
	Client       *probe.Client // shared probe client
	Limiter      *rate.Limiter // spaces calls across concurrent validations, nil = unlimited
	Attempts     int
	PendingDelay DelayRange // wait while a scan is queued or running
	ErrorDelay   DelayRange // wait after a server error or an unreadable answer
	Logger       logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Rater fetches Mozilla HTTP Observatory grades.
type Rater struct {
	endpoint     string
	client       *probe.Client
	limiter      *rate.Limiter
	attempts     int
	pendingDelay DelayRange
	errorDelay   DelayRange
	logger       logger.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewRater(opts RaterOptions) *Rater {
	if opts.Client == nil {
		opts.Client = probe.NewClient(probe.Options{})
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultRatingAttempts
	}
	if opts.PendingDelay == (DelayRange{}) {
		opts.PendingDelay = DefaultPendingDelay
	}
	if opts.ErrorDelay == (DelayRange{}) {
		opts.ErrorDelay = DefaultErrorDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.sleep == nil {
		opts.sleep = sleepCtx
	}
	return &Rater{
		endpoint:     opts.Endpoint,
		client:       opts.Client,
		limiter:      opts.Limiter,
		attempts:     opts.Attempts,
		pendingDelay: opts.PendingDelay,
		errorDelay:   opts.ErrorDelay,
		logger:       opts.Logger,
		sleep:        opts.sleep,
	}
}

type attemptOutcome int

const (
	outcomeDone attemptOutcome = iota
	outcomePending
	outcomeServerError
	outcomeGiveUp
)

type observatoryResponse struct {
	State string  `json:"state"`
	Grade *string `json:"grade"`
	Error *string `json:"error"`
}

// Rate returns the grade for the host of u, or "-" when the API did not
// produce one within the allowed attempts.
func (r *Rater) Rate(ctx context.Context, u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Hostname() == "" {
		return domain.NoRating
	}
	endpoint := r.endpoint + "?host=" + url.QueryEscape(parsed.Hostname())

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return domain.NoRating
		}

		grade, outcome := r.attempt(ctx, endpoint)
		switch outcome {
		case outcomeDone:
			return grade
		case outcomeGiveUp:
			return domain.NoRating
		}
		if attempt == r.attempts {
			break
		}

		delay := r.pendingDelay.pick()
		if outcome == outcomeServerError {
			delay = r.errorDelay.pick()
		}
		metrics.RatingRetriesTotal.Inc()
		r.logger.Debug("rating not ready, retrying",
			logger.String("host", parsed.Hostname()),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			return domain.NoRating
		}
	}
	return domain.NoRating
}

func (r *Rater) attempt(ctx context.Context, endpoint string) (string, attemptOutcome) {
	resp, err := r.client.Post(ctx, endpoint)
	if err != nil {
		return "", outcomeServerError
	}
	defer probe.Drain(resp)

	if resp.ContentLength > maxRatingResponse {
		r.logger.Warn("rating response too large, not parsing it",
			logger.Int64("content_length", resp.ContentLength))
		return "", outcomeGiveUp
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", outcomeServerError
	}

	var body observatoryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRatingResponse)).Decode(&body); err != nil {
		return "", outcomeServerError
	}

	switch body.State {
	case "PENDING", "STARTING", "RUNNING":
		return "", outcomePending
	case "ABORTED", "FAILED":
		return "", outcomeServerError
	}
	if body.Error != nil && *body.Error != "" {
		return "", outcomeServerError
	}
	if body.Grade != nil && *body.Grade != "" && (body.State == "" || body.State == "FINISHED") {
		return *body.Grade, outcomeDone
	}
	return "", outcomePending
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
