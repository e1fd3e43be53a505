// Package aead implements per-datagram encryption for the wire codec's
// FlagEncrypted bit (design note 9). Each datagram is sealed with
// ChaCha20-Poly1305 under a nonce derived from the per-peer outbound
// sequence number, so no nonce is ever reused for a given session key.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize and NonceSize mirror the underlying cipher's requirements.
const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
)

// Session seals and opens datagrams for one peer connection using a
// single session key established out-of-band (e.g. during auth) and a
// per-peer random salt mixed into every nonce alongside the sequence
// number, so two sessions sharing a key by coincidence still never
// reuse a nonce.
type Session struct {
	aead cipher.AEAD
	salt [8]byte
}

// NewSession constructs a Session from a 32-byte key
// (chacha20poly1305.KeySize) with a freshly generated random salt.
// Two independently-constructed Sessions from the same key get
// different salts, so this is only correct for a self-contained
// seal/open pair (tests); a real connection's two endpoints must share
// one salt via NewSessionWithSalt; the server generates it when it
// accepts Auth and carries it to the client in AuthResult (spec §4.8).
func NewSession(key []byte) (*Session, error) {
	var salt [8]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("aead: generate salt: %w", err)
	}
	return NewSessionWithSalt(key, salt)
}

// NewSessionWithSalt constructs a Session from a 32-byte key and an
// externally supplied salt, so two independent endpoints that exchange
// the same salt derive identical nonces for a given sequence number.
func NewSessionWithSalt(key []byte, salt [8]byte) (*Session, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: construct cipher: %w", err)
	}
	return &Session{aead: a, salt: salt}, nil
}

// Salt returns the session's nonce salt, to be carried to the peer
// endpoint so it can construct a matching Session via NewSessionWithSalt.
func (s *Session) Salt() [8]byte { return s.salt }

// nonceFor derives the 24-byte XChaCha20-Poly1305 nonce for a given
// outbound sequence number: the session's random salt, followed by the
// sequence number, zero-padded.
func (s *Session) nonceFor(seq uint16) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:8], s.salt[:])
	nonce[8] = byte(seq)
	nonce[9] = byte(seq >> 8)
	return nonce
}

// Seal encrypts plaintext in place, appending the result and
// authentication tag to dst. seq is the datagram's peer_seq, used to
// derive the nonce; additionalData should cover the unencrypted header
// fields so they are authenticated but not hidden.
func (s *Session) Seal(dst, additionalData, plaintext []byte, seq uint16) []byte {
	nonce := s.nonceFor(seq)
	return s.aead.Seal(dst, nonce[:], plaintext, additionalData)
}

// Open authenticates and decrypts ciphertext, returning the plaintext
// appended to dst. A mismatched tag or tampered additionalData returns
// an error; callers must treat this as a classified decode error, not a
// panic.
func (s *Session) Open(dst, additionalData, ciphertext []byte, seq uint16) ([]byte, error) {
	nonce := s.nonceFor(seq)
	out, err := s.aead.Open(dst, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("aead: open failed: %w", err)
	}
	return out, nil
}

// Overhead returns the number of bytes Seal adds beyond the plaintext.
func (s *Session) Overhead() int { return s.aead.Overhead() }
