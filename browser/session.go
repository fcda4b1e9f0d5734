package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/overlay"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultPathTimeout    = 30 * time.Second
	DefaultPathRetry      = 5 * time.Second
)

// LinkClosedError reports that the active link closed without the session
// asking for it.
type LinkClosedError struct {
	Reason overlay.TeardownReason
}

func (e *LinkClosedError) Error() string {
	switch e.Reason {
	case overlay.Timeout:
		return "the link timed out"
	case overlay.DestinationClosed:
		return "the link was closed by the server"
	}
	return "link closed"
}

func (e *LinkClosedError) Unwrap() error { return overlay.ErrLinkClosed }

// Session owns at most one link and issues one request at a time over it.
type Session struct {
	// RequestTimeout bounds each request. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
	// PathTimeout bounds path discovery. Zero waits until ctx is done.
	PathTimeout time.Duration
	// PathRetry is how often a path request is repeated while waiting.
	PathRetry time.Duration
	// Identity, when set, is proven to every server a link is opened to.
	Identity *overlay.Identity

	net    Network
	logger *log.Logger

	fetchMu sync.Mutex // one request in flight

	mu      sync.Mutex
	link    Link
	dest    overlay.Hash
	closing bool
	closed  chan error
}

// NewSession creates a session on n with default timeouts.
func NewSession(n Network) *Session {
	return &Session{
		RequestTimeout: DefaultRequestTimeout,
		PathTimeout:    DefaultPathTimeout,
		PathRetry:      DefaultPathRetry,
		net:            n,
		logger:         log.Default().WithPrefix("browser"),
		closed:         make(chan error, 1),
	}
}

// SetLogger replaces the session's logger.
func (s *Session) SetLogger(l *log.Logger) { s.logger = l }

// Closed delivers a *LinkClosedError when the active link closes
// unexpectedly.
func (s *Session) Closed() <-chan error { return s.closed }

// Fetch requests u.Path from u.Destination, discovering a path and opening
// a link first when needed, and returns the response body.
func (s *Session) Fetch(ctx context.Context, u address.URL) ([]byte, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if err := s.discover(ctx, u.Destination); err != nil {
		return nil, err
	}
	l, err := s.linkTo(ctx, u.Destination)
	if err != nil {
		return nil, err
	}
	return s.request(ctx, l, address.NormalizePath(u.Path))
}

// discover waits for a path to h, repeating the path request every
// PathRetry.
func (s *Session) discover(ctx context.Context, h overlay.Hash) error {
	if s.net.HasPath(h) {
		return nil
	}
	s.logger.Info("destination not yet known, requesting path and waiting for announce", "destination", h.Pretty())

	if s.PathTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.PathTimeout)
		defer cancel()
	}
	retry := s.PathRetry
	if retry <= 0 {
		retry = DefaultPathRetry
	}

	hinted := false
	for {
		if err := s.net.RequestPath(h); err != nil {
			if errors.Is(err, overlay.ErrNoPeers) && !hinted {
				s.logger.Warn("no peers to ask for a path; only announces sent directly to this client can arrive (set --peer or --group)")
				hinted = true
			} else {
				s.logger.Debug("path request", "err", err)
			}
		}
		wait, cancel := context.WithTimeout(ctx, retry)
		err := s.net.AwaitPath(wait, h)
		cancel()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, overlay.ErrTransportClosed):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %s: %w", overlay.ErrPathUnknown, h.Pretty(), ctx.Err())
		}
	}
}

// linkTo returns the active link when it goes to h, and otherwise replaces
// it with a new one.
func (s *Session) linkTo(ctx context.Context, h overlay.Hash) (Link, error) {
	s.mu.Lock()
	if s.link != nil && s.dest == h {
		l := s.link
		s.mu.Unlock()
		return l, nil
	}
	old := s.link
	s.link = nil
	s.mu.Unlock()

	if old != nil {
		s.logger.Debug("tearing down link to previous destination")
		old.Teardown()
	}

	s.logger.Info("establishing link with server", "destination", h.Pretty())
	established := make(chan Link, 1)
	failed := make(chan overlay.TeardownReason, 1)
	pending, err := s.net.OpenLink(h, LinkCallbacks{
		Established: func(l Link) {
			s.mu.Lock()
			s.link = l
			s.dest = h
			s.mu.Unlock()
			established <- l
		},
		Closed: func(l Link, reason overlay.TeardownReason) {
			if s.linkClosed(l, reason) {
				return
			}
			select {
			case failed <- reason:
			default:
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", overlay.ErrLinkEstablishment, err)
	}

	select {
	case l := <-established:
		s.logger.Info("link established with server")
		if s.Identity != nil {
			if err := l.Identify(s.Identity); err != nil {
				s.logger.Warn("identify", "err", err)
			}
		}
		return l, nil
	case reason := <-failed:
		return nil, fmt.Errorf("%w: %s", overlay.ErrLinkEstablishment, reason)
	case <-ctx.Done():
		pending.Teardown()
		return nil, ctx.Err()
	}
}

// linkClosed handles a closed callback. It reports whether l was the
// active link; an unexpected close of the active link is published on
// Closed.
func (s *Session) linkClosed(l Link, reason overlay.TeardownReason) bool {
	s.mu.Lock()
	active := s.link != nil && s.link == l
	if active {
		s.link = nil
	}
	closing := s.closing
	s.mu.Unlock()

	if !active {
		return false
	}
	if closing || reason == overlay.InitiatorClosed {
		return true
	}

	err := &LinkClosedError{Reason: reason}
	s.logger.Warn(err.Error())
	select {
	case s.closed <- err:
	default:
	}
	return true
}

func (s *Session) request(ctx context.Context, l Link, path string) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)

	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s.logger.Debug("sending request", "path", path)
	err := l.Request(path, timeout,
		func(body []byte) { done <- result{body: body} },
		func(err error) { done <- result{err: err} },
	)
	if err != nil {
		if errors.Is(err, overlay.ErrLinkClosed) {
			s.forget(l)
		}
		return nil, err
	}

	select {
	case r := <-done:
		if r.err != nil {
			s.logger.Debug("request failed", "path", path, "err", r.err)
		}
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) forget(l Link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
}

// Close tears down the active link. Its close is not reported on Closed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closing = true
	l := s.link
	s.link = nil
	s.mu.Unlock()

	if l != nil {
		l.Teardown()
	}
}

// Shutdown closes the session and the network under it.
func (s *Session) Shutdown() error {
	s.Close()
	return s.net.Close()
}
