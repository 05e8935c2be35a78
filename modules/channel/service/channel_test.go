package service

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	pub1, priv1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if len(pub1) != KeySize || len(priv1) != KeySize {
		t.Fatalf("GenerateKeyPair() key sizes = %d, %d, want %d", len(pub1), len(priv1), KeySize)
	}

	pub2, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	if bytes.Equal(pub1, pub2) {
		t.Fatal("two generated key pairs share a public key")
	}
}

func TestSecureChannelRoundtrip(t *testing.T) {
	alicePub, alicePriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	bobPub, bobPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	aliceSide, err := NewSecureChannel(alicePriv, bobPub, "neg-123")
	if err != nil {
		t.Fatalf("NewSecureChannel() error = %v", err)
	}
	bobSide, err := NewSecureChannel(bobPriv, alicePub, "neg-123")
	if err != nil {
		t.Fatalf("NewSecureChannel() error = %v", err)
	}

	plaintext := []byte(`{"type":"proposal","slot_index":2}`)
	frame, err := aliceSide.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if frame[0] != FrameVersion {
		t.Fatalf("frame version = %d, want %d", frame[0], FrameVersion)
	}
	if len(frame) != FrameOverhead+len(plaintext) {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameOverhead+len(plaintext))
	}

	// Both directions must derive the same channel key.
	opened, err := bobSide.Open(frame)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open() = %q, want %q", opened, plaintext)
	}

	reply, err := bobSide.Seal([]byte("counter"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := aliceSide.Open(reply); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
}

func TestSecureChannelNonceVariesPerFrame(t *testing.T) {
	_, alicePriv, _ := GenerateKeyPair()
	bobPub, _, _ := GenerateKeyPair()

	ch, err := NewSecureChannel(alicePriv, bobPub, "neg-1")
	if err != nil {
		t.Fatalf("NewSecureChannel() error = %v", err)
	}

	first, err := ch.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	second, err := ch.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two frames of the same plaintext are identical")
	}
}

func TestSecureChannelOpenFailures(t *testing.T) {
	alicePub, alicePriv, _ := GenerateKeyPair()
	bobPub, bobPriv, _ := GenerateKeyPair()
	_, evePriv, _ := GenerateKeyPair()

	sender, err := NewSecureChannel(alicePriv, bobPub, "neg-1")
	if err != nil {
		t.Fatalf("NewSecureChannel() error = %v", err)
	}
	frame, err := sender.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tests := []struct {
		name     string
		receiver func() (*SecureChannel, error)
		mutate   func([]byte) []byte
	}{
		{
			name:     "tampered ciphertext",
			receiver: func() (*SecureChannel, error) { return NewSecureChannel(bobPriv, alicePub, "neg-1") },
			mutate: func(f []byte) []byte {
				out := append([]byte(nil), f...)
				out[len(out)-1] ^= 0x01
				return out
			},
		},
		{
			name:     "tampered version byte",
			receiver: func() (*SecureChannel, error) { return NewSecureChannel(bobPriv, alicePub, "neg-1") },
			mutate: func(f []byte) []byte {
				out := append([]byte(nil), f...)
				out[0] = 0x02
				return out
			},
		},
		{
			name:     "truncated frame",
			receiver: func() (*SecureChannel, error) { return NewSecureChannel(bobPriv, alicePub, "neg-1") },
			mutate:   func(f []byte) []byte { return f[:FrameOverhead-1] },
		},
		{
			name:     "wrong negotiation",
			receiver: func() (*SecureChannel, error) { return NewSecureChannel(bobPriv, alicePub, "neg-2") },
			mutate:   func(f []byte) []byte { return f },
		},
		{
			name:     "wrong key pair",
			receiver: func() (*SecureChannel, error) { return NewSecureChannel(evePriv, alicePub, "neg-1") },
			mutate:   func(f []byte) []byte { return f },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receiver, err := tt.receiver()
			if err != nil {
				t.Fatalf("NewSecureChannel() error = %v", err)
			}
			if _, err := receiver.Open(tt.mutate(frame)); err == nil {
				t.Fatal("Open() succeeded, want error")
			}
		})
	}
}

func TestNewSecureChannelRejectsBadKeySizes(t *testing.T) {
	_, priv, _ := GenerateKeyPair()
	pub, _, _ := GenerateKeyPair()

	if _, err := NewSecureChannel(priv[:16], pub, "neg-1"); err == nil {
		t.Fatal("NewSecureChannel() accepted a short private key")
	}
	if _, err := NewSecureChannel(priv, pub[:16], "neg-1"); err == nil {
		t.Fatal("NewSecureChannel() accepted a short public key")
	}
}
