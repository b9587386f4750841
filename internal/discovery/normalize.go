package discovery

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned by NormalizeURL for inputs that are not absolute
// http(s) URLs.
var ErrInvalidURL = errors.New("invalid source url")

// trackingParams are query keys that never change the resource.
var trackingParams = []string{"utm_", "fbclid", "gclid", "mc_cid", "mc_eid"}

// NormalizeURL returns the canonical form of raw used as the dedup key:
// lowercase scheme and host, default port removed, fragment removed, trailing
// slash stripped, tracking parameters dropped, remaining query sorted.
// http and https are kept distinct.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	u.Scheme = scheme
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	// Work on the escaped path: decoding %2F and friends would name a
	// different resource.
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Path = path
	u.RawPath = escaped
	u.RawQuery = canonicalQuery(u.RawQuery)
	u.ForceQuery = false

	return u.String(), nil
}

// canonicalQuery drops tracking parameters and sorts the rest by decoded key.
// Each pair keeps its original encoding, and a bare flag stays bare.
func canonicalQuery(raw string) string {
	type pair struct{ key, text string }
	var pairs []pair
	for _, text := range strings.Split(raw, "&") {
		if text == "" {
			continue
		}
		k, _, _ := strings.Cut(text, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		if isTracking(key) {
			continue
		}
		pairs = append(pairs, pair{key: key, text: text})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].text < pairs[j].text
	})

	texts := make([]string, len(pairs))
	for i, p := range pairs {
		texts[i] = p.text
	}
	return strings.Join(texts, "&")
}

func isTracking(key string) bool {
	key = strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
