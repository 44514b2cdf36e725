package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL normalizes a service base URL. Missing schemes default to
// the first allowed one and trailing slashes are dropped.
func ValidateURL(raw string, schemes ...string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is empty")
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	if !strings.Contains(raw, "://") {
		raw = schemes[0] + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}

	supported := false
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			supported = true
			break
		}
	}
	if !supported {
		return "", fmt.Errorf("unsupported scheme %q, expected one of %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in url %q", raw)
	}

	return strings.TrimRight(u.String(), "/"), nil
}
