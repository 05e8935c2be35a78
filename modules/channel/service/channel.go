package service

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of X25519 keys and derived AEAD keys.
const KeySize = 32

// FrameVersion is the version byte prepended to every sealed frame. It is
// included in the AAD, so tampering with it fails authentication.
const FrameVersion byte = 0x01

// FrameOverhead is the total byte overhead per sealed frame:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const FrameOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoChannel is the HKDF domain-separation prefix; the negotiation id is
// appended so each negotiation gets its own channel key even for the same
// pair of users.
var hkdfInfoChannel = []byte("meetpact.channel.v1.")

// GenerateKeyPair creates a new X25519 key pair.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	privateKey = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, privateKey); err != nil {
		return nil, nil, fmt.Errorf("generating private key: %w", err)
	}

	publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving public key: %w", err)
	}
	return publicKey, privateKey, nil
}

// SecureChannel seals and opens agent message payloads for one pair of users
// within one negotiation. Both directions derive the same channel key, so a
// single SecureChannel value serves send and receive.
type SecureChannel struct {
	aead          cipher.AEAD
	negotiationID string
}

// NewSecureChannel derives the per-negotiation channel key from our private
// key and the peer's public key: X25519 shared secret, then HKDF-SHA256 with
// the negotiation id as the info parameter.
func NewSecureChannel(privateKey, peerPublicKey []byte, negotiationID string) (*SecureChannel, error) {
	if len(privateKey) != KeySize || len(peerPublicKey) != KeySize {
		return nil, fmt.Errorf("keys must be %d bytes", KeySize)
	}

	secret, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	info := make([]byte, 0, len(hkdfInfoChannel)+len(negotiationID))
	info = append(info, hkdfInfoChannel...)
	info = append(info, negotiationID...)

	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving channel key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	return &SecureChannel{aead: aead, negotiationID: negotiationID}, nil
}

// Seal encrypts plaintext into the standard frame:
//
//	[Version: 1 byte] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The version byte and negotiation id are additional authenticated data, so a
// frame cannot be replayed into another negotiation.
func (c *SecureChannel) Seal(plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, FrameOverhead+len(plaintext))
	out[0] = FrameVersion
	copy(out[1:], nonce[:])

	return c.aead.Seal(out, nonce[:], plaintext, c.aad()), nil
}

// Open decrypts a frame produced by Seal. Fails on truncation, unknown
// version, or any tampering with frame or AAD.
func (c *SecureChannel) Open(frame []byte) ([]byte, error) {
	if len(frame) < FrameOverhead {
		return nil, fmt.Errorf("frame is %d bytes, minimum is %d", len(frame), FrameOverhead)
	}
	if frame[0] != FrameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", frame[0])
	}

	nonce := frame[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := frame[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, c.aad())
	if err != nil {
		return nil, fmt.Errorf("frame authentication failed: %w", err)
	}
	return plaintext, nil
}

func (c *SecureChannel) aad() []byte {
	aad := make([]byte, 0, 1+len(c.negotiationID))
	aad = append(aad, FrameVersion)
	aad = append(aad, c.negotiationID...)
	return aad
}
