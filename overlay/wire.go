package overlay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/codec"
)

// MaxFrameSize bounds a single link frame, which bounds response bodies.
const MaxFrameSize = 16 * 1024 * 1024

// packetType tags datagrams sent on the UDP interface.
type packetType uint8

const (
	packetAnnounce packetType = iota + 1
	packetPathRequest
)

// packet is the datagram exchanged on the UDP interface. Announces carry
// every field; path requests only Type and Destination.
type packet struct {
	Type        packetType `codec:"t"`
	Destination []byte     `codec:"d"`
	PublicKey   []byte     `codec:"k,omitempty"`
	Name        string     `codec:"n,omitempty"`
	Emitted     int64      `codec:"e,omitempty"`
	Signature   []byte     `codec:"s,omitempty"`
	Address     string     `codec:"a,omitempty"` // link address hint, not signed
	Hops        uint8      `codec:"h,omitempty"`
}

// signedPart is the portion of an announce covered by its signature.
func (p *packet) signedPart() []byte {
	b := make([]byte, 0, len(p.Destination)+len(p.PublicKey)+len(p.Name)+8)
	b = append(b, p.Destination...)
	b = append(b, p.PublicKey...)
	b = append(b, p.Name...)
	return binary.BigEndian.AppendUint64(b, uint64(p.Emitted))
}

// linkRequest opens a link. It is the first frame on a new connection.
type linkRequest struct {
	Destination []byte `codec:"d"`
	LinkID      []byte `codec:"l"`
	Ephemeral   []byte `codec:"x"`
}

// linkProof answers a linkRequest. Signature covers link id, the
// initiator's ephemeral key and the responder's ephemeral key.
type linkProof struct {
	Ephemeral []byte `codec:"x"`
	Signature []byte `codec:"s"`
}

// frameType tags the sealed frames exchanged on an active link.
type frameType uint8

const (
	frameRequest frameType = iota + 1
	frameResponse
	frameFailure
	frameIdentify
	frameKeepalive
	frameKeepaliveAck
	frameClose
)

type frame struct {
	Type        frameType `codec:"t"`
	RequestID   []byte    `codec:"r,omitempty"`
	Path        string    `codec:"p,omitempty"`
	Data        []byte    `codec:"d,omitempty"`
	Error       string    `codec:"e,omitempty"`
	RequestedAt int64     `codec:"at,omitempty"`
	PublicKey   []byte    `codec:"k,omitempty"`
	Signature   []byte    `codec:"s,omitempty"`
}

var msgpackHandle = &codec.MsgpackHandle{}

func marshal(v interface{}) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshal(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, msgpackHandle).Decode(v)
}

// writeFrame writes a 4-byte big-endian length followed by b.
func writeFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
