package auth

import (
	"net/url"
	"strings"
)

// SafeRedirect resolves a post-login redirect target against baseURL.
// Relative paths are joined to baseURL, absolute URLs are accepted only when
// they share baseURL's origin, and anything else falls back to baseURL.
func SafeRedirect(target, baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")

	// "//evil.example" is protocol-relative, not a path
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return base + target
	}

	t, err := url.Parse(target)
	if err != nil || t.Scheme == "" || t.Host == "" {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		return base
	}

	if strings.EqualFold(t.Scheme, b.Scheme) && strings.EqualFold(t.Host, b.Host) {
		return target
	}
	return base
}
