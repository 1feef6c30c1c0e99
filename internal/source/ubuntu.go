package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultUbuntuURL is the root of the Ubuntu releases tree.
const DefaultUbuntuURL = "https://releases.ubuntu.com/"

var (
	ubuntuVersionRe = regexp.MustCompile(`href="(\d+\.\d+)/"`)
	ubuntuISORe     = regexp.MustCompile(`href="([^"]*(?:desktop|live-server)-amd64\.iso)"`)
)

// Ubuntu tracks the latest long term support release.
type Ubuntu struct {
	// BaseURL is the releases directory.
	BaseURL string

	lister *lister
}

// NewUbuntu returns an Ubuntu source reading listings under baseURL.
func NewUbuntu(baseURL string) *Ubuntu {
	return &Ubuntu{BaseURL: baseURL, lister: newLister(nil)}
}

// LatestVersion returns the newest LTS release, or the newest release when
// the listing has no LTS.
func (u *Ubuntu) LatestVersion(ctx context.Context) (string, error) {
	body, err := u.lister.fetch(ctx, u.BaseURL)
	if err != nil {
		return "", err
	}

	versions := submatches(ubuntuVersionRe, body)

	var lts []string

	for _, v := range versions {
		if isUbuntuLTS(v) {
			lts = append(lts, v)
		}
	}

	if latest, ok := highestVersion(lts); ok {
		return latest, nil
	}

	latest, ok := highestVersion(versions)
	if !ok {
		return "", fmt.Errorf("ubuntu: %w", ErrNoVersion)
	}

	return latest, nil
}

// DownloadLinks returns the desktop image followed by the server image.
func (u *Ubuntu) DownloadLinks(ctx context.Context, version string) ([]Link, error) {
	dir := joinURL(u.BaseURL, version)

	body, err := u.lister.fetch(ctx, dir+"/")
	if err != nil {
		return nil, err
	}

	var desktop, server []Link

	for _, iso := range uniqueSorted(submatches(ubuntuISORe, body)) {
		link := NewLink(joinURL(dir, iso))
		if strings.Contains(iso, "desktop") {
			desktop = append(desktop, link)
		} else {
			server = append(server, link)
		}
	}

	links := append(desktop, server...)
	if len(links) == 0 {
		return nil, fmt.Errorf("ubuntu %s: %w", version, ErrNoLinks)
	}

	return links, nil
}

// isUbuntuLTS reports whether v is an April release of an even year.
func isUbuntuLTS(v string) bool {
	year, month, ok := strings.Cut(v, ".")
	if !ok || month != "04" {
		return false
	}

	n, err := strconv.Atoi(year)

	return err == nil && n%2 == 0
}
