package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/4c3e/rip-demo-1/address"
	"github.com/4c3e/rip-demo-1/overlay"
)

// Network is the part of the overlay a Session drives.
type Network interface {
	HasPath(h overlay.Hash) bool
	RequestPath(h overlay.Hash) error
	AwaitPath(ctx context.Context, h overlay.Hash) error
	// OpenLink starts establishing a link to a server destination and
	// returns it while still pending.
	OpenLink(h overlay.Hash, callbacks LinkCallbacks) (Link, error)
	Close() error
}

// Link is one link to a server. Links must be comparable: the value given
// to callbacks equals the value OpenLink returned.
type Link interface {
	Request(path string, timeout time.Duration, onResponse func([]byte), onFailed func(error)) error
	Identify(id *overlay.Identity) error
	Teardown()
}

// LinkCallbacks report link state changes from transport goroutines.
type LinkCallbacks struct {
	Established func(Link)
	Closed      func(Link, overlay.TeardownReason)
}

// NewNetwork adapts an overlay transport.
func NewNetwork(t *overlay.Transport) Network {
	return transportNetwork{t}
}

type transportNetwork struct {
	*overlay.Transport
}

func (n transportNetwork) OpenLink(h overlay.Hash, callbacks LinkCallbacks) (Link, error) {
	id, ok := n.Recall(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", overlay.ErrPathUnknown, h.Pretty())
	}
	dest := overlay.NewDestination(id, overlay.Out, address.App, address.ServerAspect)
	if dest.Hash() != h {
		return nil, fmt.Errorf("%w: %s is not a %s destination", overlay.ErrLinkEstablishment, h.Pretty(), dest.Name())
	}

	l, err := n.Transport.OpenLink(dest, overlay.LinkCallbacks{
		Established: func(l *overlay.Link) {
			if callbacks.Established != nil {
				callbacks.Established(transportLink{l})
			}
		},
		Closed: func(l *overlay.Link) {
			if callbacks.Closed != nil {
				callbacks.Closed(transportLink{l}, l.TeardownReason())
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return transportLink{l}, nil
}

type transportLink struct {
	l *overlay.Link
}

func (t transportLink) Request(path string, timeout time.Duration, onResponse func([]byte), onFailed func(error)) error {
	_, err := t.l.Request(path, nil, timeout,
		func(r *overlay.RequestReceipt) { onResponse(r.Response()) },
		func(r *overlay.RequestReceipt) { onFailed(r.Err()) },
	)
	return err
}

func (t transportLink) Identify(id *overlay.Identity) error { return t.l.Identify(id) }
func (t transportLink) Teardown()                          { t.l.Teardown() }
