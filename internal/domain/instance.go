package domain

import (
	"strings"
	"time"
)

// Variant tells which kind of service an instance runs.
type Variant int

const (
	VariantPrivateBin Variant = iota
	VariantJitsi
)

func (v Variant) String() string {
	switch v {
	case VariantPrivateBin:
		return "privatebin"
	case VariantJitsi:
		return "jitsi"
	default:
		return "unknown"
	}
}

// ServiceName is the human readable product name, used in failure messages.
func (v Variant) ServiceName() string {
	switch v {
	case VariantJitsi:
		return "Jitsi"
	default:
		return "PrivateBin"
	}
}

// ParseVariant accepts the String() form, empty means PrivateBin.
func ParseVariant(s string) (Variant, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "privatebin":
		return VariantPrivateBin, true
	case "jitsi":
		return VariantJitsi, true
	default:
		return VariantPrivateBin, false
	}
}

// UnknownCountry is reported when no geographic signal is available.
const UnknownCountry = "AQ"

// Instance is a registered, publicly listed service instance.
//
// An Instance is uniquely identified by its canonical URL.
type Instance struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	ID  int64  `json:"id"`
	URL string `json:"url"`

	// ─────────────────────────────
	// Observed attributes
	// (rewritten by every full sweep)
	// ─────────────────────────────

	Version       string  `json:"version"`
	HTTPS         bool    `json:"https"`
	HTTPSRedirect bool    `json:"https_redirect"`
	CSPHeader     bool    `json:"csp_header"`
	Attachments   bool    `json:"attachments"`
	CountryID     string  `json:"country_id"`
	Variant       Variant `json:"variant"`

	// ─────────────────────────────
	// Aggregates (read only, computed by the repository)
	// ─────────────────────────────

	// Uptime is the share of successful checks in the retention window, in percent.
	Uptime int `json:"uptime"`

	// RatingMozillaObservatory is the last known grade, "-" when unknown.
	RatingMozillaObservatory string `json:"rating_mozilla_observatory"`
}

// Check is one liveness observation. Append only.
type Check struct {
	InstanceID int64
	Up         bool
	Updated    time.Time
}

// ScannerMozillaObservatory is the only scanner currently in use.
const ScannerMozillaObservatory = "mozilla_observatory"

// NoRating marks a scan that has not produced a grade yet.
const NoRating = "-"

// Scan is the latest result of a third-party scanner for an instance.
// There is at most one Scan per (Scanner, InstanceID).
type Scan struct {
	Scanner    string
	Rating     string
	Percent    int
	InstanceID int64
}

// NewObservatoryScan builds the scan row for a Mozilla Observatory grade.
func NewObservatoryScan(rating string) Scan {
	if rating == "" {
		rating = NoRating
	}
	return Scan{
		Scanner: ScannerMozillaObservatory,
		Rating:  rating,
		Percent: RatingToPercent(rating),
	}
}

// Candidate is a fully validated instance that is not persisted yet.
type Candidate struct {
	Instance Instance
	Scans    []Scan
}

// Rating returns the grade of the first scan of the given scanner, or "-".
func (c *Candidate) Rating(scanner string) string {
	for _, s := range c.Scans {
		if s.Scanner == scanner {
			return s.Rating
		}
	}
	return NoRating
}

// InstanceUpdate carries the attributes a re-validation may change.
type InstanceUpdate struct {
	Version       string
	HTTPS         bool
	HTTPSRedirect bool
	CSPHeader     bool
	Attachments   bool
	CountryID     string
}

// UpdateFrom extracts the mutable attributes of an instance.
func UpdateFrom(i Instance) InstanceUpdate {
	return InstanceUpdate{
		Version:       i.Version,
		HTTPS:         i.HTTPS,
		HTTPSRedirect: i.HTTPSRedirect,
		CSPHeader:     i.CSPHeader,
		Attachments:   i.Attachments,
		CountryID:     i.CountryID,
	}
}

// Apply writes the update into the instance.
func (u InstanceUpdate) Apply(i *Instance) {
	i.Version = u.Version
	i.HTTPS = u.HTTPS
	i.HTTPSRedirect = u.HTTPSRedirect
	i.CSPHeader = u.CSPHeader
	i.Attachments = u.Attachments
	i.CountryID = u.CountryID
}
