package authgate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"github.com/trezcool/masomo-authgate/core"
)

// PIN hash schemes
const (
	// SchemeSHA256 is the legacy unsalted digest, hash-for-hash compatible with the mobile client.
	SchemeSHA256 = "sha256"
	// SchemeArgon2id stores a salted (and optionally peppered) PHC string.
	SchemeArgon2id = "argon2id"
)

var errUnknownScheme = errors.New("unknown PIN hash scheme")

// PINCodec hashes PINs one way and verifies them against stored digests.
// Plaintext PINs are never stored.
type PINCodec interface {
	Hash(pin string) (string, error)
	Verify(pin, digest string) bool
}

type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

var DefaultArgon2Params = Argon2Params{Time: 1, Memory: 19 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

type pinCodec struct {
	scheme string
	params Argon2Params
	pepper []byte
	rand   io.Reader
}

var _ PINCodec = (*pinCodec)(nil)

// NewPINCodec returns a codec hashing new PINs with `scheme`.
// Verify accepts digests of either scheme, so legacy hashes keep working after an upgrade.
func NewPINCodec(scheme string, params Argon2Params, pepper string) (PINCodec, error) {
	if scheme != SchemeSHA256 && scheme != SchemeArgon2id {
		return nil, errors.Wrap(errUnknownScheme, scheme)
	}
	if params.SaltLen == 0 {
		params.SaltLen = DefaultArgon2Params.SaltLen
	}
	if params.KeyLen == 0 {
		params.KeyLen = DefaultArgon2Params.KeyLen
	}
	if params.Threads == 0 {
		params.Threads = 1
	}
	if params.Time == 0 {
		params.Time = 1
	}
	if params.Memory < 8*uint32(params.Threads) {
		params.Memory = 8 * uint32(params.Threads)
	}
	var pep []byte
	if pepper != "" {
		pep = []byte(pepper)
	}
	return &pinCodec{scheme: scheme, params: params, pepper: pep, rand: rand.Reader}, nil
}

func NewPINCodecFromConfig(conf core.AuthConfig) (PINCodec, error) {
	params := DefaultArgon2Params
	params.Time = conf.Argon2Time
	params.Memory = conf.Argon2Memory
	params.Threads = conf.Argon2Threads
	return NewPINCodec(conf.PinHashScheme, params, conf.PinPepper)
}

func validatePIN(pin string) error {
	return core.ValidateStruct(struct {
		PIN string `json:"pin" validate:"pincode"`
	}{pin})
}

func (c *pinCodec) Hash(pin string) (string, error) {
	if err := validatePIN(pin); err != nil {
		return "", err
	}
	if c.scheme == SchemeSHA256 {
		return hashSHA256(pin), nil
	}

	salt := make([]byte, c.params.SaltLen)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return "", errors.Wrap(err, "generating salt")
	}
	key := argon2.IDKey(c.input(pin), salt, c.params.Time, c.params.Memory, c.params.Threads, c.params.KeyLen)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, c.params.Memory, c.params.Time, c.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (c *pinCodec) Verify(pin, digest string) bool {
	if digest == "" {
		return false
	}
	if strings.HasPrefix(digest, "$argon2id$") {
		return c.verifyArgon2id(pin, digest)
	}
	want := hashSHA256(pin)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(digest))) == 1
}

// input peppers the PIN with the install secret, when there is one.
func (c *pinCodec) input(pin string) []byte {
	if len(c.pepper) == 0 {
		return []byte(pin)
	}
	h := hmac.New(sha256.New, c.pepper)
	_, _ = h.Write([]byte(pin))
	return h.Sum(nil)
}

func (c *pinCodec) verifyArgon2id(pin, digest string) bool {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		memory, iterations uint32
		threads            uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey(c.input(pin), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func hashSHA256(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}
