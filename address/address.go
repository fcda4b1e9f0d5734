// Package address parses rip URLs and resolves links found in pages.
//
// A rip URL names a destination by its 20 hex character hash and a path on
// that destination:
//
//	rip://0123456789abcdef0123/docs/index.gem
//
// The scheme may be omitted when parsing.
package address

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/4c3e/rip-demo-1/overlay"
)

const (
	// Scheme is the URL scheme of rip addresses.
	Scheme = "rip"

	// DefaultPath is requested when a URL has no path or just "/".
	DefaultPath = "/index.gem"

	// App and ServerAspect name the destination servers register:
	// "rip.server".
	App          = "rip"
	ServerAspect = "server"

	schemeSep = "://"
)

var (
	ErrMalformedDestination = errors.New("malformed destination")
	ErrUnsupportedScheme    = errors.New("unsupported scheme")
)

// URL is a destination plus a path that always starts with "/".
type URL struct {
	Destination overlay.Hash
	Path        string
}

// String returns the canonical form rip://<hash><path>.
func (u URL) String() string {
	return Scheme + schemeSep + u.Destination.String() + u.Path
}

// Parse parses raw, with or without the rip:// prefix.
func Parse(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, schemeSep) {
		raw = Scheme + schemeSep + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("%w: %v", ErrMalformedDestination, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return URL{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	return New(u.Host, u.Path)
}

// New builds a URL from a hex destination and a path, which may omit its
// leading slash.
func New(destination, path string) (URL, error) {
	h, err := overlay.ParseHash(destination)
	if err != nil {
		return URL{}, fmt.Errorf("%w: %q: %v", ErrMalformedDestination, destination, err)
	}
	return URL{Destination: h, Path: NormalizePath(path)}, nil
}

// NormalizePath maps "" and "/" to DefaultPath and adds a missing leading
// slash.
func NormalizePath(p string) string {
	if p == "" || p == "/" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Absolutise resolves relative against base using RFC 3986 reference
// resolution. Anything that already carries a scheme separator is
// returned unchanged, so absolute inputs are fixed points.
func Absolutise(base, relative string) (string, error) {
	if strings.Contains(relative, schemeSep) {
		return relative, nil
	}
	if !strings.Contains(base, schemeSep) {
		base = Scheme + schemeSep + base
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("base %q: %w", base, err)
	}
	r, err := url.Parse(relative)
	if err != nil {
		return "", fmt.Errorf("link %q: %w", relative, err)
	}
	return b.ResolveReference(r).String(), nil
}
