package db

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrInvalidKey     = errors.New("session key must be 32 bytes (hex or base64)")
	ErrSealedTooShort = errors.New("sealed token too short")
	ErrOpenFailed     = errors.New("sealed token could not be opened")
)

// Sealer encrypts bearer tokens before they are stored.
type Sealer struct {
	key [32]byte
}

// NewSealer parses a 32-byte key given as hex or standard base64.
func NewSealer(encoded string) (*Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		raw, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal returns nonce||ciphertext.
func (s *Sealer) Seal(plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}
