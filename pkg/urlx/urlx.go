// Package urlx provides URL extraction from message text, strict
// normalization for de-duplication, and the keyed hash used as the cache and
// storage key throughout the pipeline.
package urlx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/serrors"
)

// hashNamespace prefixes the hashed input so url hashes can never collide
// with hashes of other values under the same key.
const hashNamespace = "wbscanner:url:v1|"

// trackingParams are stripped during normalization so the same landing page
// shared through different campaigns hashes to the same key.
var trackingParams = map[string]struct{}{ //nolint: gochecknoglobals
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {},
	"vero_conv": {}, "vero_id": {},
}

var urlPattern = regexp.MustCompile(`(?i)((https?://|www\.)[^\s<>()]+[^\s` + "`" + `!()\[\]{};:'".,<>?«»“”‘’])`) //nolint: gochecknoglobals

// Extract returns the distinct URLs found in a message text, in order of
// first appearance. Bare www. links are given an http scheme so they can be
// parsed downstream.
func Extract(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		if !strings.HasPrefix(strings.ToLower(m), "http") {
			m = "http://" + m
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}

	return out
}

// Normalize returns a canonical, normalized representation of a URL string.
//
// The normalization rules are intentionally strict and opinionated to help
// with URL de-duplication in the scanner:
//   - Only http and https URLs are accepted
//   - Lower-case the scheme and host
//   - Ensure path is present; empty path becomes "/"
//   - Clean the path (resolve dot-segments, collapse duplicate slashes)
//   - Remove a trailing slash (except for the root path "/")
//   - Drop default ports (http:80, https:443), keep non-default ports
//   - Drop known tracking parameters, sort the remaining query by key and value
//   - Remove the fragment
//
// If the input cannot be parsed as an http(s) URL, an error is returned.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("could not parse URL: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", serrors.With(serrors.ErrBadRequest, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", serrors.With(serrors.ErrBadRequest, "URL has no host")
	}

	// if no path, make it "/"
	if u.Path == "" {
		u.Path = "/"
	}

	// clean path (removes dot-segments, duplicate slashes)
	cleaned := path.Clean(u.Path)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	u.Path = cleaned

	// remove trailing slash (but not for root)
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	// lowercase host and drop default ports
	host := strings.ToLower(u.Host)
	port := ""
	if ph, pp, err := net.SplitHostPort(host); err == nil {
		host, port = ph, pp
	} // else: might be a host without explicit port or IPv6 without port
	if port != "" {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		} else {
			u.Host = net.JoinHostPort(host, port)
		}
	} else {
		u.Host = host
	}

	// drop tracking params, sort the rest (keys and values)
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if _, tracking := trackingParams[k]; tracking {
				delete(q, k)
				continue
			}
			sort.Strings(q[k])
		}
		// url.Values.Encode() sorts keys lexicographically
		u.RawQuery = q.Encode()
	}

	u.Fragment = ""

	return u.String(), nil
}

// Hasher computes the deterministic, non-reversible keyed hash of normalized
// URLs. The key comes from configuration; two deployments with different keys
// produce unrelated hashes, so raw URLs cannot be recovered from stored keys.
type Hasher struct {
	key []byte
}

// NewHasher creates a Hasher with the given secret key.
func NewHasher(key string) *Hasher {
	return &Hasher{key: []byte(key)}
}

// Hash returns the hex HMAC-SHA256 of the namespaced normalized URL.
func (h *Hasher) Hash(normalized string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(hashNamespace + normalized))

	return hex.EncodeToString(mac.Sum(nil))
}

// Target normalizes raw and builds the immutable ScanTarget for one scan
// request.
func (h *Hasher) Target(raw string) (domain.ScanTarget, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return domain.ScanTarget{}, err
	}

	return domain.ScanTarget{
		InputURL:      raw,
		NormalizedURL: normalized,
		URLHash:       h.Hash(normalized),
	}, nil
}
