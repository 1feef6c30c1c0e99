package source

import (
	"context"
	"fmt"
	"regexp"

	"github.com/oshokin/distroget/internal/logger"
)

// DefaultFedoraURL is the root of the Fedora releases tree.
const DefaultFedoraURL = "https://download.fedoraproject.org/pub/fedora/linux/releases/"

var (
	fedoraVersionRe     = regexp.MustCompile(`href="(\d+)/"`)
	fedoraWorkstationRe = regexp.MustCompile(`href="(Fedora-Workstation-Live[^"]*\.iso)"`)
	fedoraSpinRe        = regexp.MustCompile(`href="(Fedora-[^"]*\.iso)"`)
)

// Fedora tracks Fedora Workstation and the desktop spins.
type Fedora struct {
	// BaseURL is the releases directory.
	BaseURL string

	lister *lister
}

// NewFedora returns a Fedora source reading listings under baseURL.
func NewFedora(baseURL string) *Fedora {
	return &Fedora{BaseURL: baseURL, lister: newLister(nil)}
}

// LatestVersion returns the highest numbered release directory.
func (f *Fedora) LatestVersion(ctx context.Context) (string, error) {
	body, err := f.lister.fetch(ctx, f.BaseURL)
	if err != nil {
		return "", err
	}

	latest, ok := highestVersion(submatches(fedoraVersionRe, body))
	if !ok {
		return "", fmt.Errorf("fedora: %w", ErrNoVersion)
	}

	return latest, nil
}

// DownloadLinks returns the Workstation live image followed by the spins.
// A missing spins directory is not an error when Workstation was found.
func (f *Fedora) DownloadLinks(ctx context.Context, version string) ([]Link, error) {
	var links []Link

	workstationDir := joinURL(f.BaseURL, version, "Workstation/x86_64/iso")

	body, err := f.lister.fetch(ctx, workstationDir+"/")
	if err != nil {
		return nil, err
	}

	if isos := uniqueSorted(submatches(fedoraWorkstationRe, body)); len(isos) > 0 {
		links = append(links, NewLink(joinURL(workstationDir, isos[0])))
	}

	spinsDir := joinURL(f.BaseURL, version, "Spins/x86_64/iso")

	body, err = f.lister.fetch(ctx, spinsDir+"/")
	if err != nil {
		if len(links) == 0 {
			return nil, err
		}

		logger.WarnKV(ctx, "Fedora spins are unavailable", "version", version, "error", err)
	}

	for _, iso := range uniqueSorted(submatches(fedoraSpinRe, body)) {
		links = append(links, NewLink(joinURL(spinsDir, iso)))
	}

	if len(links) == 0 {
		return nil, fmt.Errorf("fedora %s: %w", version, ErrNoLinks)
	}

	return links, nil
}
