package source

import (
	"context"
	"fmt"
	"regexp"
)

// DefaultOpenSUSEURL is the root of the openSUSE Leap tree.
const DefaultOpenSUSEURL = "https://download.opensuse.org/distribution/leap/"

var openSUSEVersionRe = regexp.MustCompile(`href="(\d+\.\d+)/"`)

// OpenSUSE tracks openSUSE Leap.
type OpenSUSE struct {
	// BaseURL is the Leap distribution directory.
	BaseURL string

	lister *lister
}

// NewOpenSUSE returns an openSUSE source reading listings under baseURL.
func NewOpenSUSE(baseURL string) *OpenSUSE {
	return &OpenSUSE{BaseURL: baseURL, lister: newLister(nil)}
}

// LatestVersion returns the highest Leap release directory.
func (o *OpenSUSE) LatestVersion(ctx context.Context) (string, error) {
	body, err := o.lister.fetch(ctx, o.BaseURL)
	if err != nil {
		return "", err
	}

	latest, ok := highestVersion(submatches(openSUSEVersionRe, body))
	if !ok {
		return "", fmt.Errorf("opensuse: %w", ErrNoVersion)
	}

	return latest, nil
}

// DownloadLinks returns the DVD image of version. The layout of the Leap
// tree is stable, so the link is built without a listing request.
func (o *OpenSUSE) DownloadLinks(_ context.Context, version string) ([]Link, error) {
	if version == "" {
		return nil, fmt.Errorf("opensuse: %w", ErrNoLinks)
	}

	iso := fmt.Sprintf("openSUSE-Leap-%s-DVD-x86_64-Media.iso", version)

	return []Link{NewLink(joinURL(o.BaseURL, version, "iso", iso))}, nil
}
