// Package argon2id implements ports.PasswordHasher with Argon2id and PHC-encoded hashes:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
package argon2id

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ ports.PasswordHasher = (*Hasher)(nil)

// ErrInvalidHash is returned when an encoded hash cannot be parsed.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// Params are the Argon2id cost parameters.
type Params struct {
	MemoryKiB uint32
	Time      uint32
	Threads   uint8
	SaltLen   uint32
	KeyLen    uint32
}

// DefaultParams returns 64 MiB, 3 iterations, single lane.
func DefaultParams() Params {
	return Params{
		MemoryKiB: 64 * 1024,
		Time:      3,
		Threads:   1,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Hasher hashes passwords with fixed parameters and verifies hashes made with any parameters.
type Hasher struct {
	params Params
}

// New creates a Hasher. Zero fields in p fall back to DefaultParams.
func New(p Params) *Hasher {
	def := DefaultParams()
	if p.MemoryKiB == 0 {
		p.MemoryKiB = def.MemoryKiB
	}
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = def.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = def.KeyLen
	}
	return &Hasher{params: p}
}

// Params returns the parameters new hashes are produced with.
func (h *Hasher) Params() Params { return h.params }

// Hash returns the PHC encoding of password under a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against encoded in constant time.
// A malformed hash yields an error wrapping ErrInvalidHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.MemoryKiB, d.params.Threads, uint32(len(d.key))) //nolint:gosec // key length always fits uint32

	return subtle.ConstantTimeCompare(d.key, candidate) == 1, nil
}

// NeedsRehash reports whether encoded is unparseable or weaker than the hasher's parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	d, err := decode(encoded)
	if err != nil {
		return true
	}
	return d.params.MemoryKiB < h.params.MemoryKiB ||
		d.params.Time < h.params.Time ||
		uint32(len(d.key)) < h.params.KeyLen //nolint:gosec // key length always fits uint32
}

type decoded struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (decoded, error) {
	var d decoded

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return d, fmt.Errorf("%w: expected 6 segments, got %d", ErrInvalidHash, len(parts))
	}
	if parts[1] != "argon2id" {
		return d, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return d, fmt.Errorf("%w: parsing version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return d, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.MemoryKiB, &d.params.Time, &d.params.Threads); err != nil {
		return d, fmt.Errorf("%w: parsing parameters: %w", ErrInvalidHash, err)
	}
	if d.params.MemoryKiB == 0 || d.params.Time == 0 || d.params.Threads == 0 {
		return d, fmt.Errorf("%w: zero cost parameter", ErrInvalidHash)
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return d, fmt.Errorf("%w: decoding salt: %w", ErrInvalidHash, err)
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return d, fmt.Errorf("%w: decoding hash: %w", ErrInvalidHash, err)
	}
	if len(d.key) == 0 {
		return d, fmt.Errorf("%w: empty digest", ErrInvalidHash)
	}
	d.params.SaltLen = uint32(len(d.salt)) //nolint:gosec // salt length always fits uint32
	d.params.KeyLen = uint32(len(d.key))   //nolint:gosec // key length always fits uint32

	return d, nil
}
