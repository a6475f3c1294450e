package agent

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jonwraymond/offlinecache/cache"
)

// Defaults used by DefaultConfig and applied by New for zero values.
const (
	DefaultVersion            = "portfolio-v1.1"
	DefaultFallbackURL        = "/index.html"
	DefaultInstallConcurrency = 4
)

// defaultManifest is the portfolio's precache list: the site shell plus
// the font and icon stylesheets it loads from CDNs.
var defaultManifest = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/script.js",
	"/manifest.json",
	"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700&family=JetBrains+Mono:wght@400;500&display=swap",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
}

// Config configures an Agent.
type Config struct {
	// Version names the cache generation. Changing it is the only way to
	// invalidate previously cached assets.
	Version string

	// Manifest lists the assets fetched at install time, in order.
	// Relative URLs are resolved against Scope.
	Manifest []string

	// Scope is the absolute base URL of the site the agent serves.
	Scope string

	// FallbackURL is served for navigations that fail offline.
	// Default: "/index.html"
	FallbackURL string

	// FetchTimeout bounds each network fetch. Zero disables the bound.
	FetchTimeout time.Duration

	// InstallConcurrency caps parallel manifest fetches during install.
	// Default: 4
	InstallConcurrency int
}

// DefaultConfig returns the portfolio site configuration rooted at scope.
func DefaultConfig(scope string) Config {
	return Config{
		Version:            DefaultVersion,
		Manifest:           append([]string(nil), defaultManifest...),
		Scope:              scope,
		FallbackURL:        DefaultFallbackURL,
		InstallConcurrency: DefaultInstallConcurrency,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	_, err := c.resolved()
	return err
}

func (c Config) withDefaults() Config {
	if c.FallbackURL == "" {
		c.FallbackURL = DefaultFallbackURL
	}
	if c.InstallConcurrency == 0 {
		c.InstallConcurrency = DefaultInstallConcurrency
	}
	return c
}

// resolvedConfig holds absolute, fragment-free asset URLs.
type resolvedConfig struct {
	manifest []string
	fallback string
}

func (c Config) resolved() (resolvedConfig, error) {
	var out resolvedConfig

	if c.Version == "" {
		return out, ErrMissingVersion
	}
	if err := cache.ValidateName(c.Version); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMissingVersion, err)
	}
	if len(c.Manifest) == 0 {
		return out, ErrEmptyManifest
	}
	if c.FetchTimeout < 0 {
		return out, fmt.Errorf("%w: fetch timeout %s", ErrInvalidConfig, c.FetchTimeout)
	}
	if c.InstallConcurrency < 0 {
		return out, fmt.Errorf("%w: install concurrency %d", ErrInvalidConfig, c.InstallConcurrency)
	}

	scope, err := parseScope(c.Scope)
	if err != nil {
		return out, err
	}

	seen := make(map[string]struct{}, len(c.Manifest))
	out.manifest = make([]string, 0, len(c.Manifest))
	for _, raw := range c.Manifest {
		abs, err := resolve(scope, raw)
		if err != nil {
			return out, err
		}
		if _, dup := seen[abs]; dup {
			return out, fmt.Errorf("%w: %s", ErrDuplicateAsset, abs)
		}
		seen[abs] = struct{}{}
		out.manifest = append(out.manifest, abs)
	}

	fallback := c.FallbackURL
	if fallback == "" {
		fallback = DefaultFallbackURL
	}
	if out.fallback, err = resolve(scope, fallback); err != nil {
		return out, err
	}

	return out, nil
}

func parseScope(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScope, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return u, nil
}

// resolve makes raw absolute against scope and drops any fragment.
func resolve(scope *url.URL, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty URL", ErrInvalidAsset)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	abs := scope.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), nil
}
