package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/offlinecache/cache"
)

// GenerationChecker reports on cache generation hygiene.
//
// It is unhealthy when the current generation is missing or storage cannot
// be enumerated, degraded when stale generations remain next to the
// current one, and healthy otherwise. It never creates generations.
type GenerationChecker struct {
	storage cache.Storage
	version string
}

// NewGenerationChecker checks storage against the current version name.
func NewGenerationChecker(storage cache.Storage, version string) *GenerationChecker {
	return &GenerationChecker{storage: storage, version: version}
}

// Name returns the name of this checker.
func (g *GenerationChecker) Name() string {
	return "generations"
}

// Check enumerates generations and compares them to the current version.
func (g *GenerationChecker) Check(ctx context.Context) Result {
	names, err := g.storage.Keys(ctx)
	if err != nil {
		return Unhealthy("list generations failed", fmt.Errorf("%w: %w", ErrCheckFailed, err))
	}

	current := false
	stale := make([]string, 0, len(names))
	for _, name := range names {
		if name == g.version {
			current = true
			continue
		}
		stale = append(stale, name)
	}

	details := map[string]any{
		"current":     g.version,
		"generations": names,
	}

	switch {
	case !current:
		return Unhealthy(fmt.Sprintf("generation %q not installed", g.version), ErrGenerationMissing).
			WithDetails(details)
	case len(stale) > 0:
		details["stale"] = stale
		return Degraded(fmt.Sprintf("%d stale generation(s) pending removal", len(stale))).
			WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("generation %q active", g.version)).WithDetails(details)
	}
}

var _ Checker = (*GenerationChecker)(nil)
