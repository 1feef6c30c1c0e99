package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Distribution keys of the built-in sources.
const (
	KeyFedora   = "fedora"
	KeyDebian   = "debian"
	KeyUbuntu   = "ubuntu"
	KeyOpenSUSE = "opensuse"
)

var (
	// ErrUnknownDistribution is returned by Lookup for keys without a source.
	ErrUnknownDistribution = errors.New("unknown distribution")
	// ErrNoVersion is returned when a listing contains no recognisable version.
	ErrNoVersion = errors.New("no version found")
	// ErrNoLinks is returned when a release has no downloadable artifact.
	ErrNoLinks = errors.New("no download links found")
)

// Link is a downloadable artifact of a release.
type Link struct {
	// URL is the absolute address of the artifact.
	URL string
	// Filename is the name the artifact is stored under.
	Filename string
}

// NewLink builds a Link whose filename is the last segment of rawURL.
func NewLink(rawURL string) Link {
	filename := rawURL

	if u, err := url.Parse(rawURL); err == nil {
		filename = path.Base(u.Path)
	}

	return Link{URL: rawURL, Filename: filename}
}

// VersionSource reports the latest release of one distribution.
type VersionSource interface {
	// LatestVersion returns the newest release identifier.
	LatestVersion(ctx context.Context) (string, error)
	// DownloadLinks returns the artifacts of version, most relevant first.
	DownloadLinks(ctx context.Context, version string) ([]Link, error)
}

// Registry maps distribution keys to sources. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]VersionSource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]VersionSource),
	}
}

// NewDefaultRegistry returns a registry with the built-in sources.
// baseURLs overrides listing roots by key; a nil client uses a default one.
func NewDefaultRegistry(client *http.Client, baseURLs map[string]string) *Registry {
	l := newLister(client)

	base := func(key, fallback string) string {
		if override, ok := baseURLs[key]; ok && strings.TrimSpace(override) != "" {
			return override
		}

		return fallback
	}

	r := NewRegistry()
	r.Register(KeyFedora, &Fedora{BaseURL: base(KeyFedora, DefaultFedoraURL), lister: l})
	r.Register(KeyDebian, &Debian{BaseURL: base(KeyDebian, DefaultDebianURL), lister: l})
	r.Register(KeyUbuntu, &Ubuntu{BaseURL: base(KeyUbuntu, DefaultUbuntuURL), lister: l})
	r.Register(KeyOpenSUSE, &OpenSUSE{BaseURL: base(KeyOpenSUSE, DefaultOpenSUSEURL), lister: l})

	return r
}

// Register adds or replaces the source for key.
func (r *Registry) Register(key string, s VersionSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources[normalizeKey(key)] = s
}

// Lookup returns the source registered for key. Keys are case-insensitive.
func (r *Registry) Lookup(key string) (VersionSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[normalizeKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistribution, key)
	}

	return s, nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// uniqueSorted removes duplicates and sorts values.
func uniqueSorted(values []string) []string {
	values = slices.Clone(values)
	sort.Strings(values)

	return slices.Compact(values)
}
