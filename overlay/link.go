package overlay

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// LinkID identifies a link on both ends.
type LinkID [16]byte

func newLinkID() LinkID { return LinkID(uuid.New()) }

func (id LinkID) String() string { return uuid.UUID(id).String() }

// LinkStatus is the lifecycle state of a link.
type LinkStatus int

const (
	LinkPending LinkStatus = iota
	LinkActive
	LinkClosed
)

func (s LinkStatus) String() string {
	switch s {
	case LinkPending:
		return "pending"
	case LinkActive:
		return "active"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// TeardownReason says why a link closed.
type TeardownReason int

const (
	ReasonNone TeardownReason = iota
	// Timeout: the handshake did not complete or the link went stale.
	Timeout
	// InitiatorClosed: this side tore the link down.
	InitiatorClosed
	// DestinationClosed: the remote side closed the link.
	DestinationClosed
)

func (r TeardownReason) String() string {
	switch r {
	case Timeout:
		return "timeout"
	case InitiatorClosed:
		return "initiator closed"
	case DestinationClosed:
		return "destination closed"
	}
	return "none"
}

// LinkCallbacks are invoked from transport goroutines. Closed fires exactly
// once, including when establishment fails.
type LinkCallbacks struct {
	Established func(*Link)
	Closed      func(*Link)
}

// Link is an authenticated, encrypted channel between an initiator and a
// registered destination.
type Link struct {
	id          LinkID
	destination Hash
	initiator   bool
	local       *Destination // responder side only
	transport   *Transport
	logger      *log.Logger

	sendMu  sync.Mutex
	sendKey cipher.AEAD
	sendSeq uint64
	recvKey cipher.AEAD
	recvSeq uint64

	mu          sync.Mutex
	conn        net.Conn
	status      LinkStatus
	reason      TeardownReason
	remote      *Identity
	pending     map[RequestID]*RequestReceipt
	callbacks   LinkCallbacks
	established time.Time
	done        chan struct{}
}

func newLink(t *Transport, id LinkID, destination Hash, initiator bool) *Link {
	return &Link{
		id:          id,
		destination: destination,
		initiator:   initiator,
		transport:   t,
		logger:      t.logger.With("link", id.String()[:8]),
		pending:     make(map[RequestID]*RequestReceipt),
		done:        make(chan struct{}),
	}
}

func (l *Link) ID() LinkID            { return l.id }
func (l *Link) Destination() Hash     { return l.destination }
func (l *Link) Initiator() bool       { return l.initiator }
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// TeardownReason is ReasonNone until the link has closed.
func (l *Link) TeardownReason() TeardownReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// RemoteIdentity is the destination's identity on the initiator side, and
// the identified initiator (or nil) on the responder side.
func (l *Link) RemoteIdentity() *Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

// EstablishedAt is zero until the link became active.
func (l *Link) EstablishedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.established
}

// SetLinkClosedCallback replaces the Closed callback.
func (l *Link) SetLinkClosedCallback(fn func(*Link)) {
	l.mu.Lock()
	l.callbacks.Closed = fn
	l.mu.Unlock()
}

// Request sends path and data to the remote destination. Exactly one of
// onResponse and onFailed is called, on a transport goroutine, when the
// response arrives, the remote handler fails, timeout elapses or the link
// closes. The link stays up after a failed request.
func (l *Link) Request(path string, data []byte, timeout time.Duration, onResponse, onFailed func(*RequestReceipt)) (*RequestReceipt, error) {
	r := newReceipt(path, onResponse, onFailed)

	l.mu.Lock()
	if l.status != LinkActive {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	l.pending[r.id] = r
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			if l.takePending(r.id) != nil {
				r.fail(ErrRequestTimeout)
			}
		})
	}
	l.mu.Unlock()

	err := l.send(&frame{
		Type:        frameRequest,
		RequestID:   r.id[:],
		Path:        path,
		Data:        data,
		RequestedAt: r.sentAt.UnixNano(),
	})
	if err != nil {
		if l.takePending(r.id) != nil && r.timer != nil {
			r.timer.Stop()
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	l.logger.Debug("request sent", "path", path, "id", r.id)
	return r, nil
}

// Identify proves identity to the responder, which then passes it to
// request handlers and access policies.
func (l *Link) Identify(identity *Identity) error {
	sig, err := identity.Sign(l.id[:])
	if err != nil {
		return err
	}
	return l.send(&frame{
		Type:      frameIdentify,
		PublicKey: identity.PublicKey(),
		Signature: sig,
	})
}

// Teardown closes the link with reason InitiatorClosed, failing any
// requests still in flight.
func (l *Link) Teardown() {
	l.teardown(InitiatorClosed, true)
}

func (l *Link) takePending(id RequestID) *RequestReceipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.pending[id]
	if !ok {
		return nil
	}
	delete(l.pending, id)
	return r
}

func (l *Link) teardown(reason TeardownReason, notifyRemote bool) {
	l.mu.Lock()
	if l.status == LinkClosed {
		l.mu.Unlock()
		return
	}
	wasActive := l.status == LinkActive
	l.status = LinkClosed
	l.reason = reason
	pending := l.pending
	l.pending = nil
	conn := l.conn
	onClosed := l.callbacks.Closed
	close(l.done)
	l.mu.Unlock()

	if notifyRemote && wasActive {
		_ = l.send(&frame{Type: frameClose})
	}
	if conn != nil {
		conn.Close()
	}
	for _, r := range pending {
		r.fail(ErrLinkClosed)
	}
	l.transport.removeLink(l)
	l.logger.Debug("link closed", "reason", reason)

	if onClosed != nil {
		onClosed(l)
	}
}

// activate installs the session keys and marks the link active.
func (l *Link) activate(conn net.Conn, send, recv cipher.AEAD, remote *Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == LinkClosed {
		return false
	}
	l.conn = conn
	l.sendKey = send
	l.recvKey = recv
	l.remote = remote
	l.status = LinkActive
	l.established = time.Now()
	return true
}

// establish runs the initiator side of the handshake.
func (l *Link) establish(address string, remote *Identity) {
	cfg := l.transport.cfg
	conn, err := net.DialTimeout("tcp", address, cfg.EstablishTimeout)
	if err != nil {
		l.logger.Warn("link dial failed", "address", address, "err", err)
		l.teardown(Timeout, false)
		return
	}
	l.mu.Lock()
	if l.status == LinkClosed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.conn = conn
	l.mu.Unlock()

	send, recv, err := l.handshake(conn, remote)
	if err != nil {
		l.logger.Warn("link handshake failed", "address", address, "err", err)
		reason := DestinationClosed
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			reason = Timeout
		}
		l.teardown(reason, false)
		return
	}
	if !l.activate(conn, send, recv, remote) {
		conn.Close()
		return
	}
	l.logger.Debug("link established", "destination", l.destination.Pretty())

	l.mu.Lock()
	onEstablished := l.callbacks.Established
	l.mu.Unlock()
	if onEstablished != nil {
		onEstablished(l)
	}

	go l.keepalive()
	l.readLoop()
}

func (l *Link) handshake(conn net.Conn, remote *Identity) (send, recv cipher.AEAD, err error) {
	cfg := l.transport.cfg
	if err := conn.SetDeadline(time.Now().Add(cfg.EstablishTimeout)); err != nil {
		return nil, nil, err
	}
	defer conn.SetDeadline(time.Time{})

	ephPriv, ephPub, err := ephemeralKey()
	if err != nil {
		return nil, nil, err
	}
	req, err := marshal(&linkRequest{
		Destination: l.destination[:],
		LinkID:      l.id[:],
		Ephemeral:   ephPub,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := writeFrame(conn, req); err != nil {
		return nil, nil, err
	}

	b, err := readFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	var proof linkProof
	if err := unmarshal(b, &proof); err != nil {
		return nil, nil, fmt.Errorf("decode proof: %w", err)
	}
	if !remote.Verify(proofMessage(l.id, ephPub, proof.Ephemeral), proof.Signature) {
		return nil, nil, errors.New("invalid link proof")
	}

	shared, err := curve25519.X25519(ephPriv, proof.Ephemeral)
	if err != nil {
		return nil, nil, err
	}
	i2r, r2i, err := sessionKeys(shared, l.id, l.destination)
	if err != nil {
		return nil, nil, err
	}
	return i2r, r2i, nil
}

// accept runs the responder side of the handshake on conn. It returns the
// active link, or an error when the request is malformed or addressed to a
// destination that is not registered.
func accept(t *Transport, conn net.Conn) (*Link, error) {
	if err := conn.SetDeadline(time.Now().Add(t.cfg.EstablishTimeout)); err != nil {
		return nil, err
	}
	b, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	var req linkRequest
	if err := unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("decode link request: %w", err)
	}
	h, err := HashFromBytes(req.Destination)
	if err != nil {
		return nil, err
	}
	dest, ok := t.destination(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathUnknown, h.Pretty())
	}
	if len(req.LinkID) != len(LinkID{}) {
		return nil, errors.New("bad link id")
	}
	var id LinkID
	copy(id[:], req.LinkID)

	ephPriv, ephPub, err := ephemeralKey()
	if err != nil {
		return nil, err
	}
	sig, err := dest.Identity().Sign(proofMessage(id, req.Ephemeral, ephPub))
	if err != nil {
		return nil, err
	}
	proof, err := marshal(&linkProof{Ephemeral: ephPub, Signature: sig})
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, proof); err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(ephPriv, req.Ephemeral)
	if err != nil {
		return nil, err
	}
	i2r, r2i, err := sessionKeys(shared, id, h)
	if err != nil {
		return nil, err
	}

	l := newLink(t, id, h, false)
	l.local = dest
	l.activate(conn, r2i, i2r, nil)
	return l, nil
}

func ephemeralKey() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func proofMessage(id LinkID, initiatorEph, responderEph []byte) []byte {
	msg := make([]byte, 0, len(id)+len(initiatorEph)+len(responderEph))
	msg = append(msg, id[:]...)
	msg = append(msg, initiatorEph...)
	return append(msg, responderEph...)
}

// sessionKeys derives the initiator→responder and responder→initiator
// ciphers from the ephemeral shared secret.
func sessionKeys(shared []byte, id LinkID, dest Hash) (i2r, r2i cipher.AEAD, err error) {
	key := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, id[:], dest[:]), key); err != nil {
		return nil, nil, err
	}
	if i2r, err = chacha20poly1305.New(key[:chacha20poly1305.KeySize]); err != nil {
		return nil, nil, err
	}
	if r2i, err = chacha20poly1305.New(key[chacha20poly1305.KeySize:]); err != nil {
		return nil, nil, err
	}
	return i2r, r2i, nil
}

func nonce(seq uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(n[len(n)-8:], seq)
	return n
}

func (l *Link) send(f *frame) error {
	b, err := marshal(f)
	if err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrLinkClosed
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if len(b)+l.sendKey.Overhead() > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	sealed := l.sendKey.Seal(nil, nonce(l.sendSeq), b, nil)
	l.sendSeq++
	if err := writeFrame(conn, sealed); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkClosed, err)
	}
	return nil
}

func (l *Link) receive(conn net.Conn) (*frame, error) {
	b, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	plain, err := l.recvKey.Open(nil, nonce(l.recvSeq), b, nil)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	l.recvSeq++
	var f frame
	if err := unmarshal(plain, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

func (l *Link) readLoop() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	stale := l.transport.cfg.StaleTimeout

	for {
		if err := conn.SetReadDeadline(time.Now().Add(stale)); err != nil {
			l.teardown(DestinationClosed, false)
			return
		}
		f, err := l.receive(conn)
		if err != nil {
			reason := DestinationClosed
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				reason = Timeout
			}
			if l.Status() != LinkClosed {
				l.logger.Debug("link read ended", "err", err)
			}
			l.teardown(reason, reason == Timeout)
			return
		}
		if f.Type == frameClose {
			l.teardown(DestinationClosed, false)
			return
		}
		l.handle(f)
	}
}

func (l *Link) keepalive() {
	interval := l.transport.cfg.KeepaliveInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.send(&frame{Type: frameKeepalive}); err != nil {
				return
			}
		}
	}
}

func (l *Link) handle(f *frame) {
	switch f.Type {
	case frameRequest:
		l.serve(f)
	case frameResponse, frameFailure:
		var id RequestID
		copy(id[:], f.RequestID)
		r := l.takePending(id)
		if r == nil {
			l.logger.Debug("late response dropped", "id", id)
			return
		}
		if f.Type == frameResponse {
			r.resolve(f.Data)
		} else {
			r.fail(fmt.Errorf("%w: %s", ErrRequestFailed, f.Error))
		}
	case frameIdentify:
		id, err := IdentityFromPublicKey(f.PublicKey)
		if err != nil || !id.Verify(l.id[:], f.Signature) {
			l.logger.Warn("rejected identify", "err", err)
			return
		}
		l.mu.Lock()
		l.remote = id
		l.mu.Unlock()
		l.logger.Debug("remote identified", "identity", id)
	case frameKeepalive:
		_ = l.send(&frame{Type: frameKeepaliveAck})
	case frameKeepaliveAck:
	default:
		l.logger.Debug("unknown frame", "type", f.Type)
	}
}

// serve runs the registered handler for a request frame and answers it.
func (l *Link) serve(f *frame) {
	reply := &frame{Type: frameResponse, RequestID: f.RequestID}

	var id RequestID
	copy(id[:], f.RequestID)
	remote := l.RemoteIdentity()

	var (
		h      RequestHandler
		ok     bool
		denied bool
	)
	if l.local != nil {
		h, ok, denied = l.local.lookup(f.Path, remote)
	}
	switch {
	case !ok:
		reply.Type = frameFailure
		reply.Error = "no handler for " + f.Path
	case denied:
		reply.Type = frameFailure
		reply.Error = "not allowed"
	default:
		data, err := h(f.Path, f.Data, id, remote, time.Unix(0, f.RequestedAt))
		if err != nil {
			reply.Type = frameFailure
			reply.Error = err.Error()
		} else {
			reply.Data = data
		}
	}

	if reply.Type == frameFailure {
		l.logger.Debug("request failed", "path", f.Path, "err", reply.Error)
	}
	err := l.send(reply)
	if errors.Is(err, ErrFrameTooLarge) {
		l.logger.Warn("response too large", "path", f.Path, "bytes", len(reply.Data))
		err = l.send(&frame{Type: frameFailure, RequestID: f.RequestID, Error: "response too large"})
	}
	if err != nil {
		l.logger.Warn("send response", "path", f.Path, "err", err)
	}
}
