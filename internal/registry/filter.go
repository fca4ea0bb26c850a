package registry

import (
	"context"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
)

// Filter narrows the public listing. Zero values do not filter; boolean
// fields only keep instances that have the property.
type Filter struct {
	HTTPS         bool
	HTTPSRedirect bool
	Attachments   bool
	CSPHeader     bool
	Country       string          // two letter code, case insensitive
	Version       string          // prefix, "1.7" matches "1.7.1"
	Variant       *domain.Variant // nil keeps every variant
	MinUptime     int             // percent
	Top           int             // keep the first Top after filtering
}

func (f Filter) match(inst domain.Instance) bool {
	switch {
	case f.HTTPS && !inst.HTTPS,
		f.HTTPSRedirect && !inst.HTTPSRedirect,
		f.Attachments && !inst.Attachments,
		f.CSPHeader && !inst.CSPHeader:
		return false
	case f.Country != "" && !strings.EqualFold(f.Country, inst.CountryID):
		return false
	case f.Version != "" && !strings.HasPrefix(inst.Version, f.Version):
		return false
	case f.Variant != nil && *f.Variant != inst.Variant:
		return false
	case inst.Uptime < f.MinUptime:
		return false
	}
	return true
}

// Apply returns the matching instances in their original order, as a
// fresh slice.
func (f Filter) Apply(instances []domain.Instance) []domain.Instance {
	out := make([]domain.Instance, 0, len(instances))
	for _, inst := range instances {
		if !f.match(inst) {
			continue
		}
		out = append(out, inst)
		if f.Top > 0 && len(out) == f.Top {
			break
		}
	}
	return out
}

// Listing returns the ranked listing from the directory cache, filtered.
func (r *Registry) Listing(ctx context.Context, f Filter) []domain.Instance {
	return f.Apply(r.directory.Listing(ctx))
}
