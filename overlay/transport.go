package overlay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/4c3e/rip-demo-1/known"
)

const (
	DefaultListen            = ":4242"
	DefaultEstablishTimeout  = 10 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second

	// maxHops bounds how far an announce is relayed between peers.
	maxHops = 8

	maxDatagram = 64 * 1024
)

// Config configures a Transport.
type Config struct {
	// Listen is the UDP address announces and path requests arrive on.
	Listen string
	// Peers are UDP addresses announces and path requests are sent to.
	Peers []string
	// Group is an optional multicast group joined for discovery on the
	// local network.
	Group string

	// LinkListen is the TCP address inbound links are accepted on. Empty
	// for client-only transports.
	LinkListen string
	// Advertise overrides the link address put in announces. When empty the
	// listener's address is used, with an unspecified host left blank so
	// receivers fill in the sender's address.
	Advertise string

	// KnownFile persists verified announces. Optional.
	KnownFile string

	PathTableSize     int
	PathTTL           time.Duration
	EstablishTimeout  time.Duration
	KeepaliveInterval time.Duration
	// StaleTimeout closes a link with no inbound traffic. Defaults to three
	// keepalive intervals.
	StaleTimeout time.Duration

	Logger *log.Logger
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.EstablishTimeout <= 0 {
		c.EstablishTimeout = DefaultEstablishTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 3 * c.KeepaliveInterval
	}
	if c.Logger == nil {
		c.Logger = log.Default().WithPrefix("overlay")
	}
}

// Transport owns the UDP discovery sockets, the link listener, the path
// table and every open link.
type Transport struct {
	cfg    Config
	logger *log.Logger

	udp       *net.UDPConn
	multicast *net.UDPConn
	group     *net.UDPAddr
	peers     []*net.UDPAddr
	listener  net.Listener
	paths     *pathTable

	knownMu sync.Mutex
	known   *known.Store

	mu     sync.RWMutex
	dests  map[Hash]*Destination
	links  map[LinkID]*Link
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the sockets described by cfg and starts serving them.
func New(cfg Config) (*Transport, error) {
	cfg.setDefaults()

	paths, err := newPathTable(cfg.PathTableSize, cfg.PathTTL)
	if err != nil {
		return nil, fmt.Errorf("path table: %w", err)
	}
	t := &Transport{
		cfg:    cfg,
		logger: cfg.Logger,
		paths:  paths,
		dests:  make(map[Hash]*Destination),
		links:  make(map[LinkID]*Link),
		done:   make(chan struct{}),
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"peers", t.resolvePeers},
		{"known destinations", t.loadKnown},
		{"udp", t.listenUDP},
		{"multicast", t.joinGroup},
		{"link listener", t.listenLinks},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			t.Close()
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return t, nil
}

func (t *Transport) resolvePeers() error {
	for _, p := range t.cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return err
		}
		t.peers = append(t.peers, addr)
	}
	return nil
}

func (t *Transport) loadKnown() error {
	if t.cfg.KnownFile == "" {
		return nil
	}
	store, err := known.ReadFile(t.cfg.KnownFile)
	if err != nil {
		return err
	}
	t.known = store

	ttl := t.paths.ttl
	loaded := 0
	for _, e := range store.Entries {
		expires := e.LastSeen.Add(ttl)
		if time.Now().After(expires) {
			continue
		}
		h, err := ParseHash(e.Destination)
		if err != nil {
			continue
		}
		pub, err := hex.DecodeString(e.PublicKey)
		if err != nil {
			continue
		}
		id, err := IdentityFromPublicKey(pub)
		if err != nil || DestinationHash(e.Name, id) != h {
			continue
		}
		t.paths.add(&PathEntry{
			Destination: h,
			Identity:    id,
			Name:        e.Name,
			Address:     e.Address,
			Hops:        0,
			Expires:     expires,
		})
		loaded++
	}
	t.logger.Debug("known destinations loaded", "count", loaded, "file", t.cfg.KnownFile)
	return nil
}

func (t *Transport) listenUDP() error {
	addr, err := net.ResolveUDPAddr("udp", t.cfg.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	t.udp = conn
	t.wg.Add(1)
	go t.readPackets(conn)
	t.logger.Info("listening", "udp", conn.LocalAddr())
	return nil
}

func (t *Transport) joinGroup() error {
	if t.cfg.Group == "" {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", t.cfg.Group)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	t.group = addr
	t.multicast = conn
	t.wg.Add(1)
	go t.readPackets(conn)
	return nil
}

func (t *Transport) listenLinks() error {
	if t.cfg.LinkListen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", t.cfg.LinkListen)
	if err != nil {
		return err
	}
	t.listener = ln
	t.wg.Add(1)
	go t.acceptLinks(ln)
	t.logger.Info("accepting links", "tcp", ln.Addr())
	return nil
}

// UDPAddr is the bound discovery address.
func (t *Transport) UDPAddr() net.Addr {
	if t.udp == nil {
		return nil
	}
	return t.udp.LocalAddr()
}

// LinkAddr is the bound link listener address, nil for client-only
// transports.
func (t *Transport) LinkAddr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Register makes an inbound destination reachable through this transport.
func (t *Transport) Register(d *Destination) error {
	if d.Direction() != In {
		return errors.New("only inbound destinations can be registered")
	}
	if !d.Identity().HasPrivateKey() {
		return ErrNoPrivateKey
	}
	t.mu.Lock()
	t.dests[d.Hash()] = d
	t.mu.Unlock()
	t.logger.Debug("destination registered", "name", d.Name(), "hash", d.Hash().Pretty())
	return nil
}

func (t *Transport) destination(h Hash) (*Destination, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.dests[h]
	return d, ok
}

// Announce broadcasts d's announce to every peer and the multicast group.
func (t *Transport) Announce(d *Destination) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}

	p, err := t.announcePacket(d)
	if err != nil {
		return err
	}
	b, err := marshal(p)
	if err != nil {
		return err
	}
	sent := t.broadcast(b, nil)
	t.logger.Debug("announced", "hash", d.Hash().Pretty(), "targets", sent)
	if sent == 0 {
		t.logger.Warn("announce has no peers or group to go to")
	}
	return nil
}

func (t *Transport) announcePacket(d *Destination) (*packet, error) {
	h := d.Hash()
	p := &packet{
		Type:        packetAnnounce,
		Destination: h[:],
		PublicKey:   d.Identity().PublicKey(),
		Name:        d.Name(),
		Emitted:     time.Now().UnixNano(),
		Address:     t.advertise(),
	}
	sig, err := d.Identity().Sign(p.signedPart())
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

func (t *Transport) advertise() string {
	if t.cfg.Advertise != "" {
		return t.cfg.Advertise
	}
	if t.listener == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(t.listener.Addr().String())
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = ""
	}
	return net.JoinHostPort(host, port)
}

// broadcast sends b to every peer and the group, skipping except. It
// returns the number of targets written to.
func (t *Transport) broadcast(b []byte, except *net.UDPAddr) int {
	if t.udp == nil {
		return 0
	}
	targets := append([]*net.UDPAddr(nil), t.peers...)
	if t.group != nil {
		targets = append(targets, t.group)
	}
	sent := 0
	for _, addr := range targets {
		if except != nil && addr.IP.Equal(except.IP) && addr.Port == except.Port {
			continue
		}
		if _, err := t.udp.WriteToUDP(b, addr); err != nil {
			t.logger.Debug("udp write", "to", addr, "err", err)
			continue
		}
		sent++
	}
	return sent
}

// HasPath reports whether a path to h is known.
func (t *Transport) HasPath(h Hash) bool {
	_, ok := t.paths.get(h)
	return ok
}

// Path returns the path table entry for h.
func (t *Transport) Path(h Hash) (*PathEntry, bool) {
	return t.paths.get(h)
}

// Recall returns the identity behind h, as learned from its announce.
func (t *Transport) Recall(h Hash) (*Identity, bool) {
	e, ok := t.paths.get(h)
	if !ok {
		return nil, false
	}
	return e.Identity, true
}

// RequestPath asks peers and the group for an announce of h.
func (t *Transport) RequestPath(h Hash) error {
	b, err := marshal(&packet{Type: packetPathRequest, Destination: h[:]})
	if err != nil {
		return err
	}
	if t.broadcast(b, nil) == 0 {
		return fmt.Errorf("%w: %w", ErrPathUnknown, ErrNoPeers)
	}
	t.logger.Debug("path requested", "hash", h.Pretty())
	return nil
}

// AwaitPath blocks until a path to h is known, ctx is done or the
// transport closes.
func (t *Transport) AwaitPath(ctx context.Context, h Hash) error {
	for {
		if t.HasPath(h) {
			return nil
		}
		ch := t.paths.await(h)
		if t.HasPath(h) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrPathUnknown, h.Pretty(), ctx.Err())
		case <-t.done:
			return ErrTransportClosed
		}
	}
}

// OpenLink starts establishing a link to the OUT destination d. It returns
// the pending link immediately; callbacks report the outcome.
func (t *Transport) OpenLink(d *Destination, callbacks LinkCallbacks) (*Link, error) {
	entry, ok := t.paths.get(d.Hash())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathUnknown, d.Hash().Pretty())
	}
	if entry.Address == "" {
		return nil, fmt.Errorf("%w: %s advertises no link address", ErrLinkEstablishment, d.Hash().Pretty())
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	l := newLink(t, newLinkID(), d.Hash(), true)
	l.callbacks = callbacks
	t.links[l.id] = l
	t.mu.Unlock()

	go l.establish(entry.Address, entry.Identity)
	return l, nil
}

// Links returns every open link.
func (t *Transport) Links() []*Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	links := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	return links
}

func (t *Transport) removeLink(l *Link) {
	t.mu.Lock()
	delete(t.links, l.id)
	t.mu.Unlock()
}

// Close tears down every link and closes all sockets.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	links := make([]*Link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	for _, l := range links {
		l.Teardown()
	}

	var errs []error
	if t.listener != nil {
		errs = append(errs, t.listener.Close())
	}
	if t.multicast != nil {
		errs = append(errs, t.multicast.Close())
	}
	if t.udp != nil {
		errs = append(errs, t.udp.Close())
	}
	t.wg.Wait()
	return errors.Join(errs...)
}

func (t *Transport) acceptLinks(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Error("accept", "err", err)
			}
			return
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	l, err := accept(t, conn)
	if err != nil {
		t.logger.Debug("link rejected", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.links[l.id] = l
	t.mu.Unlock()

	t.logger.Debug("inbound link", "remote", conn.RemoteAddr(), "destination", l.destination.Pretty())
	l.local.linkEstablished(l)
	l.readLoop()
}

func (t *Transport) readPackets(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Error("udp read", "err", err)
			}
			return
		}
		// decoded byte fields may alias the input, so buf cannot be shared
		data := append([]byte(nil), buf[:n]...)
		var p packet
		if err := unmarshal(data, &p); err != nil {
			t.logger.Debug("bad packet", "from", from, "err", err)
			continue
		}
		switch p.Type {
		case packetAnnounce:
			t.handleAnnounce(&p, from)
		case packetPathRequest:
			t.handlePathRequest(&p, from)
		default:
			t.logger.Debug("unknown packet", "type", p.Type, "from", from)
		}
	}
}

// verifyAnnounce checks that p is signed by the key it carries and that the
// destination hash derives from that key and name.
func verifyAnnounce(p *packet) (Hash, *Identity, error) {
	h, err := HashFromBytes(p.Destination)
	if err != nil {
		return h, nil, err
	}
	id, err := IdentityFromPublicKey(p.PublicKey)
	if err != nil {
		return h, nil, err
	}
	if DestinationHash(p.Name, id) != h {
		return h, nil, errors.New("destination hash does not match key")
	}
	if !id.Verify(p.signedPart(), p.Signature) {
		return h, nil, errors.New("bad signature")
	}
	return h, id, nil
}

func (t *Transport) handleAnnounce(p *packet, from *net.UDPAddr) {
	h, id, err := verifyAnnounce(p)
	if err != nil {
		t.logger.Warn("announce rejected", "from", from, "err", err)
		return
	}
	if _, local := t.destination(h); local {
		return
	}

	if prev, ok := t.paths.get(h); ok && prev.announce != nil {
		if p.Emitted < prev.announce.Emitted {
			return
		}
		if p.Emitted == prev.announce.Emitted && p.Hops >= prev.Hops {
			return
		}
	}

	p.Address = fillHost(p.Address, from)
	t.paths.add(&PathEntry{
		Destination: h,
		Identity:    id,
		Name:        p.Name,
		Address:     p.Address,
		Hops:        p.Hops,
		announce:    p,
	})
	t.logger.Debug("announce accepted", "hash", h.Pretty(), "address", p.Address, "hops", p.Hops)
	t.remember(h, id, p)

	if p.Hops+1 < maxHops {
		relay := *p
		relay.Hops++
		if b, err := marshal(&relay); err == nil {
			t.broadcast(b, from)
		}
	}
}

func fillHost(address string, from *net.UDPAddr) string {
	if address == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil || host != "" {
		return address
	}
	return net.JoinHostPort(from.IP.String(), port)
}

func (t *Transport) remember(h Hash, id *Identity, p *packet) {
	if t.known == nil {
		return
	}
	t.knownMu.Lock()
	defer t.knownMu.Unlock()
	t.known.Upsert(known.Entry{
		Destination: h.String(),
		PublicKey:   hex.EncodeToString(id.PublicKey()),
		Name:        p.Name,
		Address:     p.Address,
		LastSeen:    time.Now(),
	})
	if err := t.known.WriteFile(t.cfg.KnownFile); err != nil {
		t.logger.Warn("save known destinations", "err", err)
	}
}

func (t *Transport) handlePathRequest(p *packet, from *net.UDPAddr) {
	h, err := HashFromBytes(p.Destination)
	if err != nil {
		return
	}

	var reply *packet
	if d, ok := t.destination(h); ok {
		if reply, err = t.announcePacket(d); err != nil {
			t.logger.Warn("path reply", "err", err)
			return
		}
	} else if e, ok := t.paths.get(h); ok && e.announce != nil {
		cached := *e.announce
		cached.Hops++
		reply = &cached
	} else {
		return
	}

	b, err := marshal(reply)
	if err != nil {
		return
	}
	if _, err := t.udp.WriteToUDP(b, from); err != nil {
		t.logger.Debug("path reply", "to", from, "err", err)
		return
	}
	t.logger.Debug("answered path request", "hash", h.Pretty(), "to", from)
}
