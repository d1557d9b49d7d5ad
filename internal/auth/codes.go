// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/oops"
)

// Verification code defaults.
const (
	// DefaultCodeTTL is the validity window of an issued code.
	DefaultCodeTTL = 5 * time.Minute
	// CodeLength is the number of digits in a verification code.
	CodeLength = 6

	defaultShardCount = 32
)

var codeSpace = big.NewInt(1_000_000)

// Purpose selects one of the independent code namespaces.
type Purpose int

// Code purposes.
const (
	PurposeRegistration Purpose = iota + 1
	PurposePasswordReset
)

// String returns the purpose name used in logs and metrics.
func (p Purpose) String() string {
	switch p {
	case PurposeRegistration:
		return "registration"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// CodeGenerator produces a verification code.
type CodeGenerator func() (string, error)

// RandomCode returns a uniformly random, zero-padded 6-digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", oops.Code("CODE_GENERATION_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// codeEntry is replaced wholesale on every write and never mutated in place.
type codeEntry struct {
	code     string
	issuedAt time.Time
	pending  SignupRequest
}

type codeShard struct {
	mu      sync.RWMutex
	entries map[string]codeEntry
}

// codeTable is a key-striped map: each email hashes to one shard, so
// operations on different emails rarely contend.
type codeTable struct {
	shards []*codeShard
}

func newCodeTable(n int) *codeTable {
	t := &codeTable{shards: make([]*codeShard, n)}
	for i := range t.shards {
		t.shards[i] = &codeShard{entries: make(map[string]codeEntry)}
	}
	return t
}

func (t *codeTable) shard(key string) *codeShard {
	return t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
}

func (t *codeTable) get(key string) (codeEntry, bool) {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (t *codeTable) put(key string, e codeEntry) {
	s := t.shard(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// update applies fn to the entry under the shard lock. fn returns the
// replacement and whether to store it.
func (t *codeTable) update(key string, fn func(codeEntry) (codeEntry, bool)) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	next, store := fn(e)
	if store {
		s.entries[key] = next
	}
	return store
}

func (t *codeTable) remove(key string) (codeEntry, bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	return e, ok
}

func (t *codeTable) removeIf(key string, match func(codeEntry) bool) bool {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !match(e) {
		return false
	}
	delete(s.entries, key)
	return true
}

func (t *codeTable) sweep(expired func(codeEntry) bool) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if expired(e) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *codeTable) len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// CodeRegistry issues and validates verification codes for signup and
// password reset. Entries live in memory only and are lost on restart.
//
// A CodeRegistry is safe for concurrent use. Writes for the same email are
// serialized; the last writer wins.
type CodeRegistry struct {
	ttl                 time.Duration
	clock               func() time.Time
	generate            CodeGenerator
	restageResetsExpiry bool
	sweepInterval       time.Duration
	logger              *slog.Logger
	shardCount          int

	registrations *codeTable
	resets        *codeTable

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// RegistryOption configures a CodeRegistry.
type RegistryOption func(*CodeRegistry)

// WithClock sets the time source.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *CodeRegistry) {
		r.clock = clock
	}
}

// WithCodeGenerator replaces the random code generator.
func WithCodeGenerator(gen CodeGenerator) RegistryOption {
	return func(r *CodeRegistry) {
		r.generate = gen
	}
}

// WithRestageResetsExpiry makes UpdatePendingProfile restart the validity
// window. By default restaging keeps the original issuance time.
func WithRestageResetsExpiry() RegistryOption {
	return func(r *CodeRegistry) {
		r.restageResetsExpiry = true
	}
}

// WithSweepInterval sets how often the background sweeper started by Start
// drops expired entries. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *CodeRegistry) {
		r.sweepInterval = d
	}
}

// WithShardCount sets the number of lock stripes per purpose.
func WithShardCount(n int) RegistryOption {
	return func(r *CodeRegistry) {
		if n > 0 {
			r.shardCount = n
		}
	}
}

// WithRegistryLogger sets the logger used by the sweeper.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *CodeRegistry) {
		r.logger = logger
	}
}

// NewCodeRegistry creates a registry whose codes are valid for ttl.
// A non-positive ttl selects DefaultCodeTTL.
func NewCodeRegistry(ttl time.Duration, opts ...RegistryOption) *CodeRegistry {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	r := &CodeRegistry{
		ttl:        ttl,
		clock:      time.Now,
		generate:   RandomCode,
		logger:     slog.Default(),
		shardCount: defaultShardCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registrations = newCodeTable(r.shardCount)
	r.resets = newCodeTable(r.shardCount)
	return r
}

// TTL returns the validity window.
func (r *CodeRegistry) TTL() time.Duration {
	return r.ttl
}

func registryKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *CodeRegistry) table(p Purpose) *codeTable {
	switch p {
	case PurposeRegistration:
		return r.registrations
	case PurposePasswordReset:
		return r.resets
	default:
		return nil
	}
}

// IssueRegistrationCode stages pending under email and returns a fresh
// code, replacing any earlier entry for the same email.
func (r *CodeRegistry) IssueRegistrationCode(email string, pending SignupRequest) (string, error) {
	code, err := r.generate()
	if err != nil {
		return "", err
	}
	r.registrations.put(registryKey(email), codeEntry{code: code, issuedAt: r.clock(), pending: pending})
	return code, nil
}

// IssuePasswordResetCode returns a fresh reset code for email, replacing
// any earlier one.
func (r *CodeRegistry) IssuePasswordResetCode(email string) (string, error) {
	code, err := r.generate()
	if err != nil {
		return "", err
	}
	r.resets.put(registryKey(email), codeEntry{code: code, issuedAt: r.clock()})
	return code, nil
}

// Validate reports whether code is the live code for email under purpose.
// It never modifies the registry.
func (r *CodeRegistry) Validate(purpose Purpose, email, code string) bool {
	t := r.table(purpose)
	if t == nil {
		return false
	}
	e, ok := t.get(registryKey(email))
	return ok && r.live(e, code)
}

// VerifiedRegistration returns the staged signup for email if code is its
// live code. The code check and the payload come from the same entry, so a
// concurrent re-request never lends its payload to an older code.
func (r *CodeRegistry) VerifiedRegistration(email, code string) (SignupRequest, bool) {
	e, ok := r.registrations.get(registryKey(email))
	if !ok || !r.live(e, code) {
		return SignupRequest{}, false
	}
	return e.pending, true
}

func (r *CodeRegistry) live(e codeEntry, code string) bool {
	if r.expired(e) {
		return false
	}
	return len(code) == len(e.code) && subtle.ConstantTimeCompare([]byte(code), []byte(e.code)) == 1
}

func (r *CodeRegistry) expired(e codeEntry) bool {
	return r.clock().Sub(e.issuedAt) >= r.ttl
}

// PendingRegistration returns the staged signup for email without
// removing it. Expired entries are still returned; callers validate first.
func (r *CodeRegistry) PendingRegistration(email string) (SignupRequest, bool) {
	e, ok := r.registrations.get(registryKey(email))
	return e.pending, ok
}

// ConsumeRegistration removes the staged signup for email and returns it.
func (r *CodeRegistry) ConsumeRegistration(email string) (SignupRequest, bool) {
	e, ok := r.registrations.remove(registryKey(email))
	return e.pending, ok
}

// UpdatePendingProfile replaces the staged signup of a pending entry,
// keeping its code. Returns false if no entry exists.
func (r *CodeRegistry) UpdatePendingProfile(email string, pending SignupRequest) bool {
	return r.registrations.update(registryKey(email), func(e codeEntry) (codeEntry, bool) {
		e.pending = pending
		if r.restageResetsExpiry {
			e.issuedAt = r.clock()
		}
		return e, true
	})
}

// RemoveRegistration drops the pending entry for email.
func (r *CodeRegistry) RemoveRegistration(email string) {
	r.registrations.remove(registryKey(email))
}

// RemoveRegistrationIfCode drops the pending entry for email only if it
// still holds code. Returns true if an entry was removed.
func (r *CodeRegistry) RemoveRegistrationIfCode(email, code string) bool {
	return r.registrations.removeIf(registryKey(email), func(e codeEntry) bool {
		return e.code == code
	})
}

// RemovePasswordReset drops the reset challenge for email.
func (r *CodeRegistry) RemovePasswordReset(email string) {
	r.resets.remove(registryKey(email))
}

// RemovePasswordResetIfCode drops the reset challenge for email only if it
// still holds code.
func (r *CodeRegistry) RemovePasswordResetIfCode(email, code string) bool {
	return r.resets.removeIf(registryKey(email), func(e codeEntry) bool {
		return e.code == code
	})
}

// Len returns the number of entries, live or expired, held for purpose.
func (r *CodeRegistry) Len(purpose Purpose) int {
	t := r.table(purpose)
	if t == nil {
		return 0
	}
	return t.len()
}

// Sweep drops expired entries of both purposes and returns how many were
// removed.
func (r *CodeRegistry) Sweep() int {
	return r.registrations.sweep(r.expired) + r.resets.sweep(r.expired)
}

// Start launches the background sweeper. It is a no-op when the sweep
// interval is zero or the sweeper is already running. The sweeper stops
// when ctx is cancelled or Close is called.
func (r *CodeRegistry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.sweepInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.sweepLoop(ctx, r.done)
}

func (r *CodeRegistry) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept expired verification codes", "removed", n)
			}
		}
	}
}

// Close stops the sweeper and waits for it to exit. Entries are kept.
func (r *CodeRegistry) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done, r.started = nil, nil, false
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
