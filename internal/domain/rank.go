package domain

import (
	"cmp"
	"slices"
)

// ListingLimit caps every ranked listing.
const ListingLimit = 1000

// CompareRanked orders instances best first: newest version, HTTPS, enforced
// redirect, recommended CSP, rating, attachments, uptime, then URL.
func CompareRanked(a, b Instance) int {
	return cmp.Or(
		cmp.Compare(b.Version, a.Version),
		compareBoolDesc(a.HTTPS, b.HTTPS),
		compareBoolDesc(a.HTTPSRedirect, b.HTTPSRedirect),
		compareBoolDesc(a.CSPHeader, b.CSPHeader),
		cmp.Compare(RatingToPercent(b.RatingMozillaObservatory), RatingToPercent(a.RatingMozillaObservatory)),
		compareBoolDesc(a.Attachments, b.Attachments),
		cmp.Compare(b.Uptime, a.Uptime),
		cmp.Compare(a.URL, b.URL),
	)
}

// Rank sorts instances in place using CompareRanked.
func Rank(instances []Instance) {
	slices.SortStableFunc(instances, CompareRanked)
}

func compareBoolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
