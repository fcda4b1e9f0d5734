// Package server serves the files under a directory to rip clients through
// an overlay destination.
package server

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gobwas/glob"

	"github.com/4c3e/rip-demo-1/overlay"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrPathTraversal = errors.New("path escapes the server root")
)

// DefaultExclude skips hidden files and editor leftovers.
var DefaultExclude = []string{".*", "*.swp", "*~"}

// Rule restricts the routes matching Pattern to Policy.
type Rule struct {
	Pattern string
	Policy  overlay.Policy
	Allowed []overlay.Hash
}

type rule struct {
	Rule
	g glob.Glob
}

// Config configures a Server.
type Config struct {
	// Root is the directory whose files are served.
	Root string
	// Routes picks how files map to request paths. Defaults to
	// RouteBasename.
	Routes RouteMode
	// Exclude lists glob patterns matched against each file's path relative
	// to Root and against its base name.
	Exclude []string
	// Rules set the request policy of matching routes. The first match
	// wins; unmatched routes allow everyone.
	Rules []Rule
	// AnnounceInterval announces periodically in AnnounceLoop when set.
	AnnounceInterval time.Duration

	Logger *log.Logger
}

// Server answers requests on a destination with the contents of files
// under Root.
type Server struct {
	cfg      Config
	root     string
	dest     *overlay.Destination
	excludes []glob.Glob
	rules    []rule
	links    *Registry
	logger   *log.Logger

	mu     sync.RWMutex
	routes map[string]string // request path -> file relative to root
}

// New scans cfg.Root and registers a handler on dest for every file found.
func New(cfg Config, dest *overlay.Destination) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("server")
	}
	if cfg.Routes == "" {
		cfg.Routes = RouteBasename
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if fi, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("root: %s is not a directory", root)
	}

	s := &Server{
		cfg:    cfg,
		root:   root,
		dest:   dest,
		links:  newRegistry(cfg.Logger),
		logger: cfg.Logger,
		routes: map[string]string{},
	}
	for _, p := range cfg.Exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern '%s': %w", p, err)
		}
		s.excludes = append(s.excludes, g)
	}
	for _, r := range cfg.Rules {
		g, err := glob.Compile(r.Pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid rule pattern '%s': %w", r.Pattern, err)
		}
		s.rules = append(s.rules, rule{Rule: r, g: g})
	}

	if err := s.Scan(); err != nil {
		return nil, err
	}
	dest.SetNotFoundHandler(s.handle)
	dest.SetLinkEstablishedCallback(s.links.add)
	return s, nil
}

// Root returns the absolute, symlink-free root directory.
func (s *Server) Root() string { return s.root }

// Destination returns the destination requests arrive on.
func (s *Server) Destination() *overlay.Destination { return s.dest }

// Links returns the registry of inbound links.
func (s *Server) Links() *Registry { return s.links }

// Routes returns a copy of the route table.
func (s *Server) Routes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.routes))
	for k, v := range s.routes {
		out[k] = v
	}
	return out
}

func (s *Server) policy(route string) (overlay.Policy, []overlay.Hash) {
	for _, r := range s.rules {
		if r.g.Match(route) {
			return r.Policy, r.Allowed
		}
	}
	return overlay.AllowAll, nil
}

// handle is the request handler for every route and for unregistered
// paths.
func (s *Server) handle(reqPath string, _ []byte, id overlay.RequestID, remote *overlay.Identity, at time.Time) ([]byte, error) {
	requester := "anonymous"
	if remote != nil {
		requester = remote.Hash().Pretty()
	}
	body, err := s.serveFile(reqPath)
	if err != nil {
		s.logger.Warn("request failed", "path", reqPath, "requester", requester, "err", err)
		return nil, err
	}
	s.logger.Info("request", "path", reqPath, "requester", requester, "bytes", len(body), "age", time.Since(at).Round(time.Millisecond))
	s.logger.Debug("request id", "id", fmt.Sprintf("%x", id[:]))
	return body, nil
}

func (s *Server) serveFile(reqPath string) ([]byte, error) {
	rel, ok := cleanRequest(reqPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathTraversal, reqPath)
	}

	s.mu.RLock()
	file, ok := s.routes["/"+rel]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, reqPath)
	}

	full, err := filepath.EvalSymlinks(filepath.Join(s.root, filepath.FromSlash(file)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, reqPath)
	}
	if r, err := filepath.Rel(s.root, full); err != nil || !filepath.IsLocal(r) {
		return nil, fmt.Errorf("%w: %s", ErrPathTraversal, reqPath)
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, reqPath)
	}
	return body, nil
}

// cleanRequest returns the request path relative to the root, or false when
// it resolves outside of it.
func cleanRequest(p string) (string, bool) {
	rel := strings.TrimPrefix(p, "/")
	if rel == "" {
		return ".", true
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", false
	}
	return path.Clean(rel), true
}
