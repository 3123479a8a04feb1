// Package sealed encrypts SecureStore values at rest with NaCl secretbox.
package sealed

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

const (
	keySize   = 32
	nonceSize = 24
	info      = "masomo-authgate secure store v1"
)

var ErrTampered = errors.New("sealed value failed authentication")

// Store wraps another SecureStore. Each value is bound to its key name, so values
// cannot be swapped between keys.
type Store struct {
	inner authgate.SecureStore
	key   [keySize]byte
}

var _ authgate.SecureStore = (*Store)(nil)

// Wrap derives the sealing key from `secret`.
func Wrap(inner authgate.SecureStore, secret string) (*Store, error) {
	if inner == nil {
		return nil, errors.New("invalid seal arguments: nil inner store")
	}
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(strings.TrimSpace(secret), "secret"),
	).Check(); err != nil {
		return nil, errors.Wrap(err, "invalid seal arguments")
	}
	s := &Store{inner: inner}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, errors.Wrap(err, "deriving seal key")
	}
	return s, nil
}

func (s *Store) seal(key, value string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", errors.Wrap(err, "reading nonce")
	}
	out := secretbox.Seal(nonce[:], []byte(key+"\x00"+value), &nonce, &s.key)
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Store) open(key, sealed string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrTampered
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrTampered
	}
	name, value, found := strings.Cut(string(plain), "\x00")
	if !found || name != key {
		return "", ErrTampered
	}
	return value, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return s.open(key, sealed)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	return s.inner.Remove(ctx, keys...)
}

func (s *Store) Close() error {
	return s.inner.Close()
}
