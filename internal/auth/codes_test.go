// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/serviautos/serviautos/internal/auth"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequenceCodes returns the given codes in order, then repeats the last.
func sequenceCodes(codes ...string) auth.CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

func newTestRegistry(clock *fakeClock, opts ...auth.RegistryOption) *auth.CodeRegistry {
	opts = append([]auth.RegistryOption{auth.WithClock(clock.Now)}, opts...)
	return auth.NewCodeRegistry(auth.DefaultCodeTTL, opts...)
}

func signupFor(email string) auth.SignupRequest {
	return auth.SignupRequest{
		Profile:  auth.Profile{Name: "Ana", LastName: "Pérez"},
		Email:    email,
		Password: "s3cret",
	}
}

func TestRandomCode(t *testing.T) {
	six := regexp.MustCompile(`^[0-9]{6}$`)
	seen := make(map[string]struct{})
	for range 200 {
		code, err := auth.RandomCode()
		require.NoError(t, err)
		assert.Regexp(t, six, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 150, "codes should be spread across the space")
}

func TestCodeRegistry_IssueAndValidate(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("042817")))

	code, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "042817", code)

	t.Run("exact code validates", func(t *testing.T) {
		assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "042817"))
	})

	t.Run("key is case insensitive", func(t *testing.T) {
		assert.True(t, reg.Validate(auth.PurposeRegistration, " A@X.com", "042817"))
	})

	t.Run("validate is pure", func(t *testing.T) {
		for range 10 {
			assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "042817"))
		}
		assert.Equal(t, 1, reg.Len(auth.PurposeRegistration))
	})

	t.Run("every single-character mutation fails", func(t *testing.T) {
		for _, mutated := range mutations("042817") {
			assert.False(t, reg.Validate(auth.PurposeRegistration, "a@x.com", mutated), mutated)
		}
	})

	t.Run("purposes do not collide", func(t *testing.T) {
		assert.False(t, reg.Validate(auth.PurposePasswordReset, "a@x.com", "042817"))
	})

	t.Run("unknown email", func(t *testing.T) {
		assert.False(t, reg.Validate(auth.PurposeRegistration, "b@y.com", "042817"))
	})

	t.Run("unknown purpose", func(t *testing.T) {
		assert.False(t, reg.Validate(auth.Purpose(99), "a@x.com", "042817"))
		assert.Zero(t, reg.Len(auth.Purpose(99)))
	})
}

// mutations returns every string that differs from code by one character
// substitution, plus truncations and an extension.
func mutations(code string) []string {
	var out []string
	for i := range code {
		for d := '0'; d <= '9'; d++ {
			if rune(code[i]) == d {
				continue
			}
			out = append(out, code[:i]+string(d)+code[i+1:])
		}
	}
	out = append(out, code[:len(code)-1], code+"0", "", " "+code[1:])
	return out
}

func TestCodeRegistry_Expiry(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("111111")))

	_, err := reg.IssuePasswordResetCode("b@y.com")
	require.NoError(t, err)

	clock.Advance(auth.DefaultCodeTTL - time.Nanosecond)
	assert.True(t, reg.Validate(auth.PurposePasswordReset, "b@y.com", "111111"))

	clock.Advance(time.Nanosecond)
	assert.False(t, reg.Validate(auth.PurposePasswordReset, "b@y.com", "111111"), "window is half-open")

	t.Run("expired entries remain until swept", func(t *testing.T) {
		assert.Equal(t, 1, reg.Len(auth.PurposePasswordReset))
		assert.Equal(t, 1, reg.Sweep())
		assert.Zero(t, reg.Len(auth.PurposePasswordReset))
	})
}

func TestCodeRegistry_ReissueOverwrites(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("111111", "222222")))

	_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	second := signupFor("a@x.com")
	second.Name = "Beatriz"
	_, err = reg.IssueRegistrationCode("a@x.com", second)
	require.NoError(t, err)

	assert.False(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "111111"))
	assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "222222"))

	pending, ok := reg.PendingRegistration("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "Beatriz", pending.Name)

	clock.Advance(4 * time.Minute)
	assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "222222"), "issuance time was reset")
	assert.Equal(t, 1, reg.Len(auth.PurposeRegistration))
}

func TestCodeRegistry_VerifiedRegistration(t *testing.T) {
	clock := newFakeClock()
	reg := auth.NewCodeRegistry(time.Minute,
		auth.WithClock(clock.Now),
		auth.WithCodeGenerator(sequenceCodes("314159", "271828")))

	_, ok := reg.VerifiedRegistration("a@x.com", "314159")
	assert.False(t, ok, "nothing staged")

	_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
	require.NoError(t, err)

	_, ok = reg.VerifiedRegistration("a@x.com", "000000")
	assert.False(t, ok)

	pending, ok := reg.VerifiedRegistration("A@X.com ", "314159")
	require.True(t, ok)
	assert.Equal(t, "Ana", pending.Name)
	assert.Equal(t, 1, reg.Len(auth.PurposeRegistration), "reading does not consume")

	replacement := signupFor("a@x.com")
	replacement.Name = "Bea"
	_, err = reg.IssueRegistrationCode("a@x.com", replacement)
	require.NoError(t, err)
	_, ok = reg.VerifiedRegistration("a@x.com", "314159")
	assert.False(t, ok, "replaced code no longer unlocks the entry")
	pending, ok = reg.VerifiedRegistration("a@x.com", "271828")
	require.True(t, ok)
	assert.Equal(t, "Bea", pending.Name)

	clock.Advance(time.Minute)
	_, ok = reg.VerifiedRegistration("a@x.com", "271828")
	assert.False(t, ok, "expired")
}

func TestCodeRegistry_UpdatePendingProfile(t *testing.T) {
	t.Run("keeps issuance time by default", func(t *testing.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("123456")))
		_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		restaged := signupFor("a@x.com")
		restaged.Phone = "555-0100"
		require.True(t, reg.UpdatePendingProfile("a@x.com", restaged))

		pending, ok := reg.PendingRegistration("a@x.com")
		require.True(t, ok)
		assert.Equal(t, "555-0100", pending.Phone)
		assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "123456"), "code unchanged")

		clock.Advance(time.Minute)
		assert.False(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "123456"),
			"window still counts from the original issuance")
	})

	t.Run("resets issuance time when configured", func(t *testing.T) {
		clock := newFakeClock()
		reg := newTestRegistry(clock,
			auth.WithCodeGenerator(sequenceCodes("123456")),
			auth.WithRestageResetsExpiry())
		_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		require.True(t, reg.UpdatePendingProfile("a@x.com", signupFor("a@x.com")))

		clock.Advance(4 * time.Minute)
		assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "123456"),
			"window restarted at restage")

		clock.Advance(time.Minute)
		assert.False(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "123456"))
	})

	t.Run("no pending entry", func(t *testing.T) {
		reg := newTestRegistry(newFakeClock())
		assert.False(t, reg.UpdatePendingProfile("a@x.com", signupFor("a@x.com")))
		assert.Zero(t, reg.Len(auth.PurposeRegistration))
	})
}

func TestCodeRegistry_Removal(t *testing.T) {
	clock := newFakeClock()

	t.Run("consume returns and removes", func(t *testing.T) {
		reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("123456")))
		_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)

		pending, ok := reg.ConsumeRegistration("a@x.com")
		require.True(t, ok)
		assert.Equal(t, "Ana", pending.Name)

		_, ok = reg.ConsumeRegistration("a@x.com")
		assert.False(t, ok)
		assert.False(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "123456"))
	})

	t.Run("remove registration", func(t *testing.T) {
		reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("123456")))
		_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)

		reg.RemoveRegistration("a@x.com")
		_, ok := reg.PendingRegistration("a@x.com")
		assert.False(t, ok)
	})

	t.Run("compare and delete ignores a replaced entry", func(t *testing.T) {
		reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("111111", "222222")))
		_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)
		_, err = reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
		require.NoError(t, err)

		assert.False(t, reg.RemoveRegistrationIfCode("a@x.com", "111111"))
		assert.True(t, reg.Validate(auth.PurposeRegistration, "a@x.com", "222222"))
		assert.True(t, reg.RemoveRegistrationIfCode("a@x.com", "222222"))
		assert.Zero(t, reg.Len(auth.PurposeRegistration))
	})

	t.Run("reset removal", func(t *testing.T) {
		reg := newTestRegistry(clock, auth.WithCodeGenerator(sequenceCodes("333333", "444444")))
		_, err := reg.IssuePasswordResetCode("b@y.com")
		require.NoError(t, err)
		reg.RemovePasswordReset("b@y.com")
		assert.False(t, reg.Validate(auth.PurposePasswordReset, "b@y.com", "333333"))

		_, err = reg.IssuePasswordResetCode("b@y.com")
		require.NoError(t, err)
		assert.False(t, reg.RemovePasswordResetIfCode("b@y.com", "333333"))
		assert.True(t, reg.RemovePasswordResetIfCode("b@y.com", "444444"))
	})
}

func TestCodeRegistry_GeneratorFailure(t *testing.T) {
	boom := errors.New("entropy exhausted")
	reg := auth.NewCodeRegistry(0, auth.WithCodeGenerator(func() (string, error) { return "", boom }))

	assert.Equal(t, auth.DefaultCodeTTL, reg.TTL())

	_, err := reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
	require.ErrorIs(t, err, boom)
	_, err = reg.IssuePasswordResetCode("a@x.com")
	require.ErrorIs(t, err, boom)
	assert.Zero(t, reg.Len(auth.PurposeRegistration))
	assert.Zero(t, reg.Len(auth.PurposePasswordReset))
}

func TestCodeRegistry_ConcurrentIssue(t *testing.T) {
	reg := auth.NewCodeRegistry(time.Minute, auth.WithShardCount(4))

	const writers = 16
	var wg sync.WaitGroup
	codes := make([]string, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := signupFor("same@x.com")
			req.Name = fmt.Sprintf("writer-%d", i)
			code, err := reg.IssueRegistrationCode("same@x.com", req)
			assert.NoError(t, err)
			codes[i] = code
		}(i)
	}

	// Readers run alongside writers and must never see a torn entry.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if p, ok := reg.PendingRegistration("same@x.com"); ok {
					assert.Equal(t, "same@x.com", p.Email)
					assert.Regexp(t, `^writer-\d+$`, p.Name)
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, 1, reg.Len(auth.PurposeRegistration))

	// The surviving payload and code come from the same writer.
	pending, ok := reg.PendingRegistration("same@x.com")
	require.True(t, ok)
	var winner int
	_, err := fmt.Sscanf(pending.Name, "writer-%d", &winner)
	require.NoError(t, err)
	assert.True(t, reg.Validate(auth.PurposeRegistration, "same@x.com", codes[winner]))

	t.Run("different emails are independent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 64 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := reg.IssuePasswordResetCode(fmt.Sprintf("user%d@x.com", i))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 64, reg.Len(auth.PurposePasswordReset))
	})
}

func TestCodeRegistry_Sweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	reg := newTestRegistry(clock, auth.WithSweepInterval(5*time.Millisecond))

	_, err := reg.IssuePasswordResetCode("b@y.com")
	require.NoError(t, err)
	_, err = reg.IssueRegistrationCode("a@x.com", signupFor("a@x.com"))
	require.NoError(t, err)

	reg.Start(context.Background())
	reg.Start(context.Background()) // second start is a no-op

	clock.Advance(auth.DefaultCodeTTL)
	require.Eventually(t, func() bool {
		return reg.Len(auth.PurposePasswordReset) == 0 && reg.Len(auth.PurposeRegistration) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
}

func TestCodeRegistry_SweeperStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := auth.NewCodeRegistry(time.Minute, auth.WithSweepInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	reg.Start(ctx)
	cancel()
	require.NoError(t, reg.Close())
}

func TestCodeRegistry_SweeperDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := auth.NewCodeRegistry(time.Minute)
	reg.Start(context.Background())
	require.NoError(t, reg.Close())
}
