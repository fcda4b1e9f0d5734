package server

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/4c3e/rip-demo-1/overlay"
)

// Registry tracks the inbound links that are currently open.
type Registry struct {
	logger *log.Logger

	mu    sync.Mutex
	seq   uint64
	links map[overlay.LinkID]registered
}

type registered struct {
	link *overlay.Link
	seq  uint64
}

func newRegistry(logger *log.Logger) *Registry {
	return &Registry{logger: logger, links: map[overlay.LinkID]registered{}}
}

func (r *Registry) add(l *overlay.Link) {
	r.mu.Lock()
	r.seq++
	r.links[l.ID()] = registered{link: l, seq: r.seq}
	n := len(r.links)
	r.mu.Unlock()

	r.logger.Info("client connected", "link", l.ID(), "links", n)
	l.SetLinkClosedCallback(r.remove)
	if l.Status() == overlay.LinkClosed {
		r.remove(l)
	}
}

func (r *Registry) remove(l *overlay.Link) {
	r.mu.Lock()
	_, ok := r.links[l.ID()]
	delete(r.links, l.ID())
	n := len(r.links)
	r.mu.Unlock()

	if ok {
		r.logger.Info("client disconnected", "link", l.ID(), "reason", l.TeardownReason(), "links", n)
	}
}

// Latest returns the most recently connected link that is still open.
func (r *Registry) Latest() (*overlay.Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best registered
	for _, e := range r.links {
		if e.seq > best.seq {
			best = e
		}
	}
	return best.link, best.link != nil
}

// Links returns the open links, oldest first.
func (r *Registry) Links() []*overlay.Link {
	r.mu.Lock()
	entries := make([]registered, 0, len(r.links))
	for _, e := range r.links {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*overlay.Link, len(entries))
	for i, e := range entries {
		out[i] = e.link
	}
	return out
}

// Len returns the number of open links.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}
