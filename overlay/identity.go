package overlay

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

const (
	// keySize is the size of each half of a public or private key.
	keySize = 32

	// PublicKeySize is the size of the encoded public identity:
	// X25519 public key followed by the Ed25519 public key.
	PublicKeySize = 2 * keySize

	// privateKeySize is the size of a key file: X25519 private key followed
	// by the Ed25519 seed.
	privateKeySize = 2 * keySize
)

// ErrNoPrivateKey is returned when a signing operation is attempted with a
// public-only identity.
var ErrNoPrivateKey = errors.New("identity has no private key")

// Identity is a key pair used for key agreement (X25519) and signatures
// (Ed25519). Identities recalled from announces only carry public keys.
type Identity struct {
	encPriv []byte
	encPub  []byte
	sigPriv ed25519.PrivateKey
	sigPub  ed25519.PublicKey
}

// NewIdentity generates a fresh identity with private keys.
func NewIdentity() (*Identity, error) {
	raw := make([]byte, privateKeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return identityFromPrivateKey(raw)
}

func identityFromPrivateKey(raw []byte) (*Identity, error) {
	if len(raw) != privateKeySize {
		return nil, fmt.Errorf("private key: got %d bytes, want %d", len(raw), privateKeySize)
	}
	encPriv := append([]byte(nil), raw[:keySize]...)
	encPub, err := curve25519.X25519(encPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	sigPriv := ed25519.NewKeyFromSeed(raw[keySize:])
	return &Identity{
		encPriv: encPriv,
		encPub:  encPub,
		sigPriv: sigPriv,
		sigPub:  sigPriv.Public().(ed25519.PublicKey),
	}, nil
}

// IdentityFromPublicKey builds a public-only identity from the 64-byte
// encoding produced by PublicKey.
func IdentityFromPublicKey(pub []byte) (*Identity, error) {
	if len(pub) != PublicKeySize {
		return nil, fmt.Errorf("public key: got %d bytes, want %d", len(pub), PublicKeySize)
	}
	return &Identity{
		encPub: append([]byte(nil), pub[:keySize]...),
		sigPub: ed25519.PublicKey(append([]byte(nil), pub[keySize:]...)),
	}, nil
}

// LoadIdentity reads a key file written by Save.
func LoadIdentity(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	id, err := identityFromPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}
	return id, nil
}

// LoadOrCreateIdentity loads the identity at path, creating and saving a new
// one when the file does not exist. created reports which happened.
func LoadOrCreateIdentity(path string) (id *Identity, created bool, err error) {
	id, err = LoadIdentity(path)
	if err == nil {
		return id, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, err
	}
	id, err = NewIdentity()
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(path); err != nil {
		return nil, false, fmt.Errorf("save identity %s: %w", path, err)
	}
	return id, true, nil
}

// Save writes the private key material to path with 0600 permissions.
func (id *Identity) Save(path string) error {
	if !id.HasPrivateKey() {
		return ErrNoPrivateKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw := make([]byte, 0, privateKeySize)
	raw = append(raw, id.encPriv...)
	raw = append(raw, id.sigPriv.Seed()...)
	return os.WriteFile(path, raw, 0o600)
}

// HasPrivateKey reports whether the identity can sign and agree keys.
func (id *Identity) HasPrivateKey() bool {
	return id.sigPriv != nil && id.encPriv != nil
}

// PublicKey returns the 64-byte public encoding.
func (id *Identity) PublicKey() []byte {
	pub := make([]byte, 0, PublicKeySize)
	pub = append(pub, id.encPub...)
	return append(pub, id.sigPub...)
}

// Hash is the truncated hash of the public key.
func (id *Identity) Hash() Hash {
	return TruncatedHash(id.PublicKey())
}

// Sign signs msg with the Ed25519 key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.sigPriv == nil {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(id.sigPriv, msg), nil
}

// Verify checks sig over msg against the Ed25519 public key.
func (id *Identity) Verify(msg, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(id.sigPub, msg, sig)
}

// String renders the identity hash for logs.
func (id *Identity) String() string {
	return id.Hash().Pretty()
}
