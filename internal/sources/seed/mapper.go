package seed

import (
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
)

// Seed is a validated seed entry
type Seed struct {
	URL     string // canonical
	Variant domain.Variant
}

// Map turns the file entries into seeds. Entries are canonicalized and
// deduplicated, the first occurrence wins. Invalid entries are reported
// together and skipped.
func Map(file File) ([]Seed, error) {
	seen := make(map[string]bool, len(file.Instances))
	seeds := make([]Seed, 0, len(file.Instances))
	var problems []string

	for i, entry := range file.Instances {
		raw := strings.TrimSpace(entry.URL)
		if !domain.HasSupportedScheme(raw) {
			problems = append(problems, fmt.Sprintf("entry %d: %q is not an http(s) URL", i, entry.URL))
			continue
		}
		variant, ok := domain.ParseVariant(entry.Variant)
		if !ok {
			problems = append(problems, fmt.Sprintf("entry %d: unknown variant %q", i, entry.Variant))
			continue
		}
		url := domain.CanonicalURL(raw)
		if seen[url] {
			continue
		}
		seen[url] = true
		seeds = append(seeds, Seed{URL: url, Variant: variant})
	}

	if len(problems) > 0 {
		return seeds, fmt.Errorf("invalid seed entries: %s", strings.Join(problems, "; "))
	}
	return seeds, nil
}
