package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/4c3e/rip-demo-1/overlay"
)

// Announcer broadcasts a destination's announce.
type Announcer interface {
	Announce(d *overlay.Destination) error
}

// AnnounceLoop announces the destination once, then again for every line
// read from in and every AnnounceInterval. It returns when ctx is done; the
// end of in only stops the line-driven announces.
func (s *Server) AnnounceLoop(ctx context.Context, a Announcer, in io.Reader) error {
	var lines chan string
	if in != nil {
		lines = make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				select {
				case lines <- sc.Text():
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	var tick <-chan time.Time
	if s.cfg.AnnounceInterval > 0 {
		t := time.NewTicker(s.cfg.AnnounceInterval)
		defer t.Stop()
		tick = t.C
	}

	announce := func(why string) error {
		err := a.Announce(s.dest)
		switch {
		case errors.Is(err, overlay.ErrTransportClosed):
			return err
		case err != nil:
			s.logger.Warn("announce", "err", err)
		default:
			s.logger.Info("sent announce", "destination", s.dest.Hash().Pretty(), "trigger", why)
		}
		return nil
	}

	if err := announce("start"); err != nil {
		return err
	}
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := announce("input"); err != nil {
				return err
			}
		case <-tick:
			if err := announce("interval"); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
