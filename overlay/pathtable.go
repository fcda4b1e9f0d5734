package overlay

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultPathTableSize = 4096
	defaultPathTTL       = 7 * 24 * time.Hour
)

// PathEntry is what the transport knows about a remote destination.
type PathEntry struct {
	Destination Hash
	Identity    *Identity
	Name        string
	Address     string
	Hops        uint8
	Expires     time.Time

	// announce is the verified announce the entry came from; it is replayed
	// when answering path requests for this destination.
	announce *packet
}

// pathTable is a bounded table of known paths with waiters that are
// released when a path arrives.
type pathTable struct {
	cache *lru.Cache
	ttl   time.Duration

	mu      sync.Mutex
	waiters map[Hash]chan struct{}
}

func newPathTable(size int, ttl time.Duration) (*pathTable, error) {
	if size <= 0 {
		size = defaultPathTableSize
	}
	if ttl <= 0 {
		ttl = defaultPathTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &pathTable{
		cache:   cache,
		ttl:     ttl,
		waiters: make(map[Hash]chan struct{}),
	}, nil
}

// add records e and releases anyone waiting for its destination.
func (pt *pathTable) add(e *PathEntry) {
	if e.Expires.IsZero() {
		e.Expires = time.Now().Add(pt.ttl)
	}
	pt.cache.Add(e.Destination, e)

	pt.mu.Lock()
	if ch, ok := pt.waiters[e.Destination]; ok {
		close(ch)
		delete(pt.waiters, e.Destination)
	}
	pt.mu.Unlock()
}

func (pt *pathTable) get(h Hash) (*PathEntry, bool) {
	v, ok := pt.cache.Get(h)
	if !ok {
		return nil, false
	}
	e := v.(*PathEntry)
	if time.Now().After(e.Expires) {
		pt.cache.Remove(h)
		return nil, false
	}
	return e, true
}

// await returns a channel closed when a path to h is added.
func (pt *pathTable) await(h Hash) <-chan struct{} {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	ch, ok := pt.waiters[h]
	if !ok {
		ch = make(chan struct{})
		pt.waiters[h] = ch
	}
	return ch
}

func (pt *pathTable) len() int {
	return pt.cache.Len()
}
