// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/config"
)

func TestCanonicalScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scopes []string
		want   string
	}{
		{"nil", nil, ""},
		{"single", []string{"openid"}, "openid"},
		{"sorted", []string{"b", "a"}, "a b"},
		{"space separated element", []string{"b a"}, "a b"},
		{"deduplicated", []string{"a", "a", "b"}, "a b"},
		{"lowercased", []string{"OpenID", "MCP:Tools"}, "mcp:tools openid"},
		{"mixed whitespace", []string{" a\tb ", "c"}, "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanonicalScope(tt.scopes))
		})
	}
}

func TestNewKeyCollapsesEquivalentScopes(t *testing.T) {
	t.Parallel()

	a := NewKey("s-1", "billing", []string{"b a"})
	b := NewKey("s-1", "billing", []string{"a", "b"})
	assert.Equal(t, a, b)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, cfg config.TokenCacheConfig, opts ...Option) (*Cache, *audit.Recorder, *testClock) {
	t.Helper()

	recorder := audit.NewRecorder(
		audit.Config{Enabled: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	clock := &testClock{now: time.Now()}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	cache, err := New(cfg, recorder, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache, recorder, clock
}

func testToken(clock *testClock, access string) Token {
	return Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Scope:       "read",
		ExpiresAt:   clock.Now().Add(time.Hour),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", []string{"read"})
	token := testToken(clock, "exchanged-token")

	require.NoError(t, cache.Put(key, "subject", token))

	got, ok := cache.Get(key, "subject")
	require.True(t, ok)
	assert.Equal(t, "exchanged-token", got.AccessToken)
	assert.Equal(t, "Bearer", got.TokenType)
	assert.Equal(t, "read", got.Scope)
}

func TestConcurrentGetPutSameKey(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", []string{"read"})
	require.NoError(t, cache.Put(key, "subject", testToken(clock, "seed")))

	// Same-AAD replacement zeroizes the old ciphertext in place. A reader
	// decrypting that entry at the same moment must come back with a whole
	// token or a miss, never torn bytes.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		access := fmt.Sprintf("token-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.Put(key, "subject", testToken(clock, access)))
		}()
		go func() {
			defer wg.Done()
			if got, ok := cache.Get(key, "subject"); ok {
				assert.Equal(t, "Bearer", got.TokenType)
				assert.NotEmpty(t, got.AccessToken)
			}
		}()
	}
	wg.Wait()

	got, ok := cache.Get(key, "subject")
	require.True(t, ok)
	assert.NotEmpty(t, got.AccessToken)
}

func TestGetMissOnUnknownKey(t *testing.T) {
	t.Parallel()

	cache, _, _ := newTestCache(t, config.TokenCacheConfig{})
	_, ok := cache.Get(NewKey("s-1", "billing", nil), "subject")
	assert.False(t, ok)
}

func TestGetMissOnAADMismatch(t *testing.T) {
	t.Parallel()

	cache, recorder, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", []string{"read"})
	require.NoError(t, cache.Put(key, "subject-a", testToken(clock, "tok")))

	// Same key tuple, different subject token: AAD binding makes it a miss.
	_, ok := cache.Get(key, "subject-b")
	assert.False(t, ok)

	entries := recorder.Entries(audit.Filter{Source: audit.SourceCache})
	require.Len(t, entries, 1)
	assert.Equal(t, "aad_mismatch", entries[0].Reason)
	assert.False(t, entries[0].Success)

	// The original subject still reads its entry.
	_, ok = cache.Get(key, "subject-a")
	assert.True(t, ok)
}

func TestPutCollisionUnderDifferentAADKeepsExisting(t *testing.T) {
	t.Parallel()

	cache, recorder, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", []string{"read"})
	require.NoError(t, cache.Put(key, "subject-a", testToken(clock, "original")))
	require.NoError(t, cache.Put(key, "subject-b", testToken(clock, "intruder")))

	got, ok := cache.Get(key, "subject-a")
	require.True(t, ok)
	assert.Equal(t, "original", got.AccessToken)

	entries := recorder.Entries(audit.Filter{Source: audit.SourceCache})
	require.Len(t, entries, 1)
	assert.Equal(t, "aad_collision", entries[0].Reason)
}

func TestPutSameAADReplaces(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", []string{"read"})
	require.NoError(t, cache.Put(key, "subject", testToken(clock, "old")))
	require.NoError(t, cache.Put(key, "subject", testToken(clock, "new")))

	got, ok := cache.Get(key, "subject")
	require.True(t, ok)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, 1, cache.Len())
}

func TestTTLCapsEntryLifetime(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{TTL: config.Duration(time.Minute)})
	key := NewKey("s-1", "billing", nil)
	// Token itself lives an hour; the configured TTL wins.
	require.NoError(t, cache.Put(key, "subject", testToken(clock, "tok")))

	clock.Advance(61 * time.Second)
	_, ok := cache.Get(key, "subject")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestExpiryFloorTreatsNearDeadAsMiss(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", nil)
	token := Token{AccessToken: "tok", TokenType: "Bearer", ExpiresAt: clock.Now().Add(3 * time.Second)}
	require.NoError(t, cache.Put(key, "subject", token))

	// Remaining lifetime is under the 5s floor.
	_, ok := cache.Get(key, "subject")
	assert.False(t, ok)
}

func TestAlreadyExpiredTokenIsNotStored(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", nil)
	token := Token{AccessToken: "tok", ExpiresAt: clock.Now().Add(-time.Second)}
	require.NoError(t, cache.Put(key, "subject", token))
	assert.Equal(t, 0, cache.Len())
}

func TestPerSessionCapEvictsSessionLRU(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{MaxEntriesPerSession: 2})

	first := NewKey("s-1", "aud-0", nil)
	require.NoError(t, cache.Put(first, "subject", testToken(clock, "t0")))
	clock.Advance(time.Second)
	require.NoError(t, cache.Put(NewKey("s-1", "aud-1", nil), "subject", testToken(clock, "t1")))
	clock.Advance(time.Second)

	// Touch the oldest so aud-1 becomes the LRU victim.
	_, ok := cache.Get(first, "subject")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, cache.Put(NewKey("s-1", "aud-2", nil), "subject", testToken(clock, "t2")))
	assert.Equal(t, 2, cache.Len())

	_, ok = cache.Get(first, "subject")
	assert.True(t, ok)
	_, ok = cache.Get(NewKey("s-1", "aud-1", nil), "subject")
	assert.False(t, ok)
}

func TestGlobalCapEvictsAcrossSessions(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{MaxTotalEntries: 3})

	for i := 0; i < 3; i++ {
		key := NewKey(fmt.Sprintf("s-%d", i), "billing", nil)
		require.NoError(t, cache.Put(key, "subject", testToken(clock, "tok")))
		clock.Advance(time.Second)
	}
	require.Equal(t, 3, cache.Len())

	// A fourth session pushes out the oldest entry, which belongs to s-0.
	require.NoError(t, cache.Put(NewKey("s-3", "billing", nil), "subject", testToken(clock, "tok")))
	assert.Equal(t, 3, cache.Len())

	_, ok := cache.Get(NewKey("s-0", "billing", nil), "subject")
	assert.False(t, ok)
	_, ok = cache.Get(NewKey("s-1", "billing", nil), "subject")
	assert.True(t, ok)
}

func TestEndSessionWipesOnlyThatSession(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	require.NoError(t, cache.Put(NewKey("s-1", "a", nil), "subject", testToken(clock, "t1")))
	require.NoError(t, cache.Put(NewKey("s-1", "b", nil), "subject", testToken(clock, "t2")))
	require.NoError(t, cache.Put(NewKey("s-2", "a", nil), "subject", testToken(clock, "t3")))

	cache.EndSession("s-1")
	assert.Equal(t, 1, cache.Len())

	_, ok := cache.Get(NewKey("s-1", "a", nil), "subject")
	assert.False(t, ok)
	_, ok = cache.Get(NewKey("s-2", "a", nil), "subject")
	assert.True(t, ok)
}

func TestCloseFailsClosed(t *testing.T) {
	t.Parallel()

	cache, _, clock := newTestCache(t, config.TokenCacheConfig{})
	key := NewKey("s-1", "billing", nil)
	require.NoError(t, cache.Put(key, "subject", testToken(clock, "tok")))

	cache.Close()
	cache.Close() // idempotent

	_, ok := cache.Get(key, "subject")
	assert.False(t, ok)
	assert.ErrorIs(t, cache.Put(key, "subject", testToken(clock, "tok")), ErrClosed)
}

func TestSessionsDoNotShareDataKeys(t *testing.T) {
	t.Parallel()

	// Two sessions caching the same token under the same audience produce
	// different ciphertexts because data keys are derived per session.
	rootKey := make([]byte, 32)
	cache, _, clock := newTestCache(t, config.TokenCacheConfig{}, WithRootKey(rootKey))

	token := testToken(clock, "same-token")
	require.NoError(t, cache.Put(NewKey("s-1", "billing", nil), "subject", token))
	require.NoError(t, cache.Put(NewKey("s-2", "billing", nil), "subject", token))

	var sealedA, sealedB []byte
	cache.mu.RLock()
	for _, e := range cache.sessions["s-1"] {
		sealedA = e.sealed
	}
	for _, e := range cache.sessions["s-2"] {
		sealedB = e.sealed
	}
	cache.mu.RUnlock()

	require.NotEmpty(t, sealedA)
	require.NotEmpty(t, sealedB)
	assert.NotEqual(t, sealedA, sealedB)
}
