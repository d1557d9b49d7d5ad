// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes

	// Stored digests above these costs are treated as corrupt.
	maxArgon2Memory = 1 << 22 // 4 GB
	maxArgon2Time   = 64
)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way digest of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches digest. A malformed or
	// unsupported digest never matches.
	Verify(password, digest string) bool

	// NeedsUpgrade returns true if digest should be re-hashed with the
	// current algorithm and parameters.
	NeedsUpgrade(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id. Digests written by
// the previous bcrypt-based service still verify.
type Argon2idHasher struct {
	memory  uint32
	time    uint32
	threads uint8
}

// HasherOption configures an Argon2idHasher.
type HasherOption func(*Argon2idHasher)

// WithArgon2Params overrides the cost parameters. Intended for tests and
// low-memory deployments.
func WithArgon2Params(memory, time uint32, threads uint8) HasherOption {
	return func(h *Argon2idHasher) {
		h.memory = memory
		h.time = time
		h.threads = threads
	}
}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher(opts ...HasherOption) *Argon2idHasher {
	h := &Argon2idHasher{
		memory:  argon2Memory,
		time:    argon2Time,
		threads: argon2Threads,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.time,
		h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the digest.
func (h *Argon2idHasher) Verify(password, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}

	p, ok := parseArgon2id(digest)
	if !ok {
		return false
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key))) //nolint:gosec // key length bounded by parseArgon2id
	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

// DummyDigest returns a well-formed digest with the configured parameters
// that no password matches. Verifying against it costs as much as verifying
// against a real digest from this hasher.
func (h *Argon2idHasher) DummyDigest() string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.time,
		h.threads,
		base64.RawStdEncoding.EncodeToString(make([]byte, argon2SaltLen)),
		base64.RawStdEncoding.EncodeToString(make([]byte, argon2KeyLen)),
	)
}

// NeedsUpgrade returns true for bcrypt digests and for argon2id digests
// weaker than the configured parameters.
func (h *Argon2idHasher) NeedsUpgrade(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	p, ok := parseArgon2id(digest)
	if !ok {
		return false
	}
	return p.memory < h.memory || p.time < h.time || p.threads < h.threads
}

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseArgon2id(digest string) (argon2Params, bool) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Params{}, false
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return argon2Params{}, false
	}
	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 || time == 0 || time > maxArgon2Time {
		return argon2Params{}, false
	}
	if memory == 0 || memory > maxArgon2Memory {
		return argon2Params{}, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > 1<<10 {
		return argon2Params{}, false
	}

	return argon2Params{
		memory:  memory,
		time:    time,
		threads: uint8(threads),
		salt:    salt,
		key:     key,
	}, true
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
