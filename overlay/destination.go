package overlay

import (
	"strings"
	"sync"
	"time"
)

// Direction says whether a destination accepts links (In) or is a handle
// used to reach a remote one (Out).
type Direction int

const (
	In Direction = iota
	Out
)

// Policy decides which requesters may call a request handler.
type Policy int

const (
	AllowAll Policy = iota
	AllowNone
	AllowList
)

// RequestHandler produces the response for a request. remote is nil unless
// the requester identified itself on the link.
type RequestHandler func(path string, data []byte, requestID RequestID, remote *Identity, requestedAt time.Time) ([]byte, error)

type handlerEntry struct {
	handler RequestHandler
	policy  Policy
	allowed map[Hash]bool
}

// Destination is an addressable endpoint: an identity plus an application
// name. Its hash is what clients put in URLs.
type Destination struct {
	identity  *Identity
	direction Direction
	name      string
	hash      Hash

	mu          sync.RWMutex
	handlers    map[string]handlerEntry
	notFound    RequestHandler
	onLinkReady func(*Link)
}

// NewDestination creates a destination for identity named app.aspect1.aspect2...
func NewDestination(identity *Identity, direction Direction, app string, aspects ...string) *Destination {
	name := strings.Join(append([]string{app}, aspects...), ".")
	return &Destination{
		identity:  identity,
		direction: direction,
		name:      name,
		hash:      DestinationHash(name, identity),
		handlers:  make(map[string]handlerEntry),
	}
}

// DestinationHash derives the address of the destination called name owned
// by identity.
func DestinationHash(name string, identity *Identity) Hash {
	nameHash := TruncatedHash([]byte(name))
	idHash := identity.Hash()
	return TruncatedHash(nameHash[:], idHash[:])
}

func (d *Destination) Hash() Hash           { return d.hash }
func (d *Destination) Name() string         { return d.name }
func (d *Destination) Identity() *Identity  { return d.identity }
func (d *Destination) Direction() Direction { return d.direction }

// RegisterRequestHandler routes requests for path to handler. allowed is
// consulted only with the AllowList policy.
func (d *Destination) RegisterRequestHandler(path string, handler RequestHandler, policy Policy, allowed ...Hash) {
	e := handlerEntry{handler: handler, policy: policy}
	if policy == AllowList {
		e.allowed = make(map[Hash]bool, len(allowed))
		for _, h := range allowed {
			e.allowed[h] = true
		}
	}
	d.mu.Lock()
	d.handlers[path] = e
	d.mu.Unlock()
}

// DeregisterRequestHandler removes the handler for path.
func (d *Destination) DeregisterRequestHandler(path string) {
	d.mu.Lock()
	delete(d.handlers, path)
	d.mu.Unlock()
}

// ResetRequestHandlers removes every registered handler.
func (d *Destination) ResetRequestHandlers() {
	d.mu.Lock()
	d.handlers = make(map[string]handlerEntry)
	d.mu.Unlock()
}

// Paths lists the registered request paths.
func (d *Destination) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.handlers))
	for p := range d.handlers {
		paths = append(paths, p)
	}
	return paths
}

// SetNotFoundHandler sets the handler used for paths with no registration.
// Without one, such requests fail with "no handler".
func (d *Destination) SetNotFoundHandler(h RequestHandler) {
	d.mu.Lock()
	d.notFound = h
	d.mu.Unlock()
}

// SetLinkEstablishedCallback is called for each inbound link once it is
// active.
func (d *Destination) SetLinkEstablishedCallback(fn func(*Link)) {
	d.mu.Lock()
	d.onLinkReady = fn
	d.mu.Unlock()
}

func (d *Destination) linkEstablished(l *Link) {
	d.mu.RLock()
	fn := d.onLinkReady
	d.mu.RUnlock()
	if fn != nil {
		fn(l)
	}
}

// lookup returns the handler for path after applying its policy. ok is false
// when the path is unregistered and no not-found handler exists; denied is
// set when the policy rejects remote.
func (d *Destination) lookup(path string, remote *Identity) (h RequestHandler, ok, denied bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, found := d.handlers[path]
	if !found {
		return d.notFound, d.notFound != nil, false
	}
	switch e.policy {
	case AllowAll:
		return e.handler, true, false
	case AllowList:
		if remote != nil && e.allowed[remote.Hash()] {
			return e.handler, true, false
		}
	}
	return nil, true, true
}
