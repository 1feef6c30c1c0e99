package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/distroget/internal/version"
)

const (
	// maxListingSize bounds how much of a directory listing is read.
	maxListingSize = 4 << 20
	// defaultListingTimeout bounds one listing request.
	defaultListingTimeout = 30 * time.Second
)

var errBadHTTPStatus = errors.New("unexpected HTTP status")

// lister fetches HTML directory listings.
type lister struct {
	client *http.Client
}

func newLister(client *http.Client) *lister {
	if client == nil {
		client = &http.Client{Timeout: defaultListingTimeout}
	}

	return &lister{client: client}
}

// fetch returns the body of the listing at rawURL.
func (l *lister) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build listing request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch listing %s: %w", rawURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w %d for %s", errBadHTTPStatus, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingSize))
	if err != nil {
		return "", fmt.Errorf("read listing %s: %w", rawURL, err)
	}

	return string(body), nil
}

// submatches returns the first capture group of every match of re in body.
func submatches(re *regexp.Regexp, body string) []string {
	matches := re.FindAllStringSubmatch(body, -1)

	values := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 1 {
			values = append(values, m[1])
		}
	}

	return values
}

// highestVersion returns the greatest dotted version among values.
func highestVersion(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}

	best := values[0]
	for _, v := range values[1:] {
		if compareVersions(v, best) > 0 {
			best = v
		}
	}

	return best, true
}

// compareVersions orders dotted versions numerically component by component.
// Non-numeric components compare as strings.
func compareVersions(a, b string) int {
	left := strings.Split(a, ".")
	right := strings.Split(b, ".")

	for i := 0; i < len(left) || i < len(right); i++ {
		var l, r string
		if i < len(left) {
			l = left[i]
		}

		if i < len(right) {
			r = right[i]
		}

		ln, lerr := strconv.Atoi(l)
		rn, rerr := strconv.Atoi(r)

		switch {
		case lerr == nil && rerr == nil:
			if ln != rn {
				if ln < rn {
					return -1
				}

				return 1
			}
		case l != r:
			return strings.Compare(l, r)
		}
	}

	return 0
}

// joinURL appends path segments to base, keeping a single slash between them.
func joinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		out += "/" + strings.Trim(s, "/")
	}

	return out
}
