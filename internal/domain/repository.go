package domain

import (
	"context"
	"time"
)

// Order selects how ListInstances sorts its result.
type Order int

const (
	// OrderRanked is the public directory ranking, see CompareRanked.
	OrderRanked Order = iota
	// OrderURL sorts alphabetically, used by imports that only need membership.
	OrderURL
)

type ListOptions struct {
	Order Order
	Limit int // <= 0 means ListingLimit
}

// Repository is the persistence contract of the directory.
//
// Implementations must delete the checks and scans of an instance together
// with the instance.
type Repository interface {
	ListInstances(ctx context.Context, opts ListOptions) ([]Instance, error)

	// InsertInstance stores a candidate with a first successful Check and its
	// scans, atomically. Returns ErrInstanceExists for a known URL.
	InsertInstance(ctx context.Context, c *Candidate) (int64, error)

	InsertChecks(ctx context.Context, checks []Check) error
	UpsertScan(ctx context.Context, scan Scan) error
	UpdateInstance(ctx context.Context, id int64, u InstanceUpdate) error
	DeleteInstance(ctx context.Context, id int64) error
	DeleteChecksOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteInstancesWithFailureCountAtLeast(ctx context.Context, threshold int) (int64, error)

	Ping(ctx context.Context) error
}
