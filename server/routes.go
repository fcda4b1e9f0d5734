package server

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// RouteMode maps files under the root to request paths.
type RouteMode string

const (
	// RouteBasename serves every file at "/" plus its base name, whatever
	// directory it is in. When two files share a name the one walked last
	// wins.
	RouteBasename RouteMode = "basename"
	// RouteTree serves every file at its path relative to the root.
	RouteTree RouteMode = "tree"
)

// ParseRouteMode parses "basename" or "tree".
func ParseRouteMode(s string) (RouteMode, error) {
	switch m := RouteMode(s); m {
	case RouteBasename, RouteTree:
		return m, nil
	}
	return "", fmt.Errorf("unknown route mode %q", s)
}

func (m RouteMode) route(rel string) string {
	if m == RouteTree {
		return "/" + rel
	}
	return "/" + path.Base(rel)
}

func (s *Server) excluded(rel string) bool {
	base := path.Base(rel)
	for _, g := range s.excludes {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// Scan walks the root and replaces the route table. Handlers for new routes
// are registered on the destination and those for vanished routes removed.
func (s *Server) Scan() error {
	routes := map[string]string{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", p, "err", err)
			return nil
		}
		if p == s.root {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if s.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !servable(p, d) {
			return nil
		}

		route := s.cfg.Routes.route(rel)
		if prev, ok := routes[route]; ok {
			s.logger.Warn("route collision, last file wins", "route", route, "replaced", prev, "file", rel)
		}
		routes[route] = rel
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.root, err)
	}

	s.mu.Lock()
	old := s.routes
	s.routes = routes
	s.mu.Unlock()

	for route := range routes {
		policy, allowed := s.policy(route)
		s.dest.RegisterRequestHandler(route, s.handle, policy, allowed...)
	}
	for route := range old {
		if _, ok := routes[route]; !ok {
			s.dest.DeregisterRequestHandler(route)
		}
	}
	s.logger.Info("routes registered", "root", s.root, "mode", s.cfg.Routes, "count", len(routes))
	return nil
}

// servable reports whether p is a regular file or a symlink to one.
func servable(p string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
