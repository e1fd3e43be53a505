package aead

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := NewSession(key)
	if err != nil {
		t.Fatal(err)
	}

	ad := []byte("header-fields")
	plaintext := []byte("hello ticknet")
	sealed := s.Seal(nil, ad, plaintext, 42)

	opened, err := s.Open(nil, ad, sealed, 42)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, opened)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, KeySize)
	s, _ := NewSession(key)
	sealed := s.Seal(nil, nil, []byte("payload"), 1)
	sealed[0] ^= 0xFF
	if _, err := s.Open(nil, nil, sealed, 1); err == nil {
		t.Fatal("expected tamper detection to fail open")
	}
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	key := make([]byte, KeySize)
	s, _ := NewSession(key)
	sealed := s.Seal(nil, nil, []byte("payload"), 1)
	if _, err := s.Open(nil, nil, sealed, 2); err == nil {
		t.Fatal("expected wrong-sequence nonce to fail authentication")
	}
}

func TestRejectsWrongKeySize(t *testing.T) {
	if _, err := NewSession(make([]byte, 10)); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}

func TestCrossSessionSharedSaltRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	sender, err := NewSession(key)
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := NewSessionWithSalt(key, sender.Salt())
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("independently constructed sessions")
	sealed := sender.Seal(nil, nil, plaintext, 7)
	opened, err := receiver.Open(nil, nil, sealed, 7)
	if err != nil {
		t.Fatalf("receiver could not open sender's datagram: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, opened)
	}
}
