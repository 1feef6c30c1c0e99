package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DefaultDebianURL is the directory of the current Debian live images.
const DefaultDebianURL = "https://cdimage.debian.org/debian-cd/current-live/amd64/iso-hybrid/"

var (
	debianVersionRe = regexp.MustCompile(`debian-live-(\d+\.\d+(?:\.\d+)?)-amd64`)
	debianISORe     = regexp.MustCompile(`href="(debian-live-[^"]+\.iso)"`)
)

// debianDesktops orders live images by desktop preference.
//
//nolint:gochecknoglobals // Read-only lookup table.
var debianDesktops = []string{"gnome", "kde", "xfce", "cinnamon", "mate", "lxqt", "lxde"}

// Debian tracks the stable live images.
type Debian struct {
	// BaseURL is the live image directory.
	BaseURL string

	lister *lister
}

// NewDebian returns a Debian source reading the listing at baseURL.
func NewDebian(baseURL string) *Debian {
	return &Debian{BaseURL: baseURL, lister: newLister(nil)}
}

// LatestVersion returns the full point release, e.g. "12.6.0".
func (d *Debian) LatestVersion(ctx context.Context) (string, error) {
	body, err := d.lister.fetch(ctx, d.BaseURL)
	if err != nil {
		return "", err
	}

	latest, ok := highestVersion(submatches(debianVersionRe, body))
	if !ok {
		return "", fmt.Errorf("debian: %w", ErrNoVersion)
	}

	return latest, nil
}

// DownloadLinks returns the live images of version, preferred desktops first.
func (d *Debian) DownloadLinks(ctx context.Context, version string) ([]Link, error) {
	body, err := d.lister.fetch(ctx, d.BaseURL)
	if err != nil {
		return nil, err
	}

	prefix := "debian-live-" + version + "-"

	var isos []string

	for _, iso := range uniqueSorted(submatches(debianISORe, body)) {
		if strings.HasPrefix(iso, prefix) {
			isos = append(isos, iso)
		}
	}

	if len(isos) == 0 {
		return nil, fmt.Errorf("debian %s: %w", version, ErrNoLinks)
	}

	links := make([]Link, 0, len(isos))
	for _, iso := range orderByDesktop(isos) {
		links = append(links, NewLink(joinURL(d.BaseURL, iso)))
	}

	return links, nil
}

// orderByDesktop sorts images by the position of their desktop in debianDesktops.
// Images without a known desktop come last in their original order.
func orderByDesktop(isos []string) []string {
	ordered := make([]string, 0, len(isos))
	seen := make(map[string]bool, len(isos))

	for _, desktop := range debianDesktops {
		for _, iso := range isos {
			if !seen[iso] && strings.Contains(strings.ToLower(iso), "-"+desktop) {
				ordered = append(ordered, iso)
				seen[iso] = true
			}
		}
	}

	for _, iso := range isos {
		if !seen[iso] {
			ordered = append(ordered, iso)
		}
	}

	return ordered
}
