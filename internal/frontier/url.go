// Package frontier normalizes audit URLs and drives the bounded BFS crawl queue.
package frontier

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// blockedExtensions lists path extensions that are never HTML pages.
var blockedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".pdf": {}, ".zip": {}, ".mp4": {}, ".css": {}, ".js": {}, ".xml": {},
}

// Normalize standardizes a caller-supplied root URL.
// It trims input, assumes https when no scheme is given, rejects anything but
// http/https, lowercases scheme and host, removes default ports and drops the fragment.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fixlab.InvalidInput("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fixlab.InvalidInput("parse url: %v", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fixlab.InvalidInput("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fixlab.InvalidInput("url %q has no host", raw)
	}
	u.Host = canonicalHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Canonicalize resolves candidate against origin and returns the crawlable form.
// It returns false unless the result shares origin's scheme, host and port, uses
// http/https, and does not point at a non-HTML asset. Query and fragment are dropped
// so tracking-parameter variants collapse to one entry.
func Canonicalize(candidate string, origin *url.URL) (string, bool) {
	if origin == nil {
		return "", false
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	u := origin.ResolveReference(ref)
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Host = canonicalHost(u.Scheme, u.Host)
	if u.Scheme != strings.ToLower(origin.Scheme) || u.Host != canonicalHost(strings.ToLower(origin.Scheme), origin.Host) {
		return "", false
	}
	if _, blocked := blockedExtensions[strings.ToLower(path.Ext(u.Path))]; blocked {
		return "", false
	}
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}

// Origin parses a normalized root URL for use with Canonicalize.
func Origin(root string) (*url.URL, error) {
	u, err := url.Parse(root)
	if err != nil {
		return nil, fixlab.InvalidInput("parse root url: %v", err)
	}
	return u, nil
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		host = strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}
