// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokencache provides the encrypted in-memory cache for exchanged
// tokens.
//
// Entries are keyed by (session, audience, canonical scope) and encrypted
// with AES-256-GCM under a per-session data key derived from a process-wide
// root key. The GCM additional authenticated data is the SHA-256 of the
// subject token the entry was exchanged from, so a cached token can only be
// read back by the session and subject token that produced it.
package tokencache

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/telemetry"
)

// Defaults applied when the configuration leaves a field unset.
const (
	// DefaultTTL caps cached-token lifetime.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntriesPerSession caps entries per session.
	DefaultMaxEntriesPerSession = 32
	// DefaultMaxTotalEntries caps the cache globally.
	DefaultMaxTotalEntries = 1024
	// DefaultExpiryFloor is the remaining lifetime below which a hit is not
	// worth returning: the caller would re-exchange mid-request anyway.
	DefaultExpiryFloor = 5 * time.Second
)

// ErrClosed is returned by writes after Close. Reads fail closed as misses.
var ErrClosed = errors.New("token cache is closed")

// Token is the plaintext value stored in the cache.
type Token struct {
	// AccessToken is the exchanged access token.
	AccessToken string `json:"accessToken"`
	// TokenType is the token type, normally "Bearer".
	TokenType string `json:"tokenType"`
	// Scope is the canonical scope the IdP actually granted.
	Scope string `json:"scope,omitempty"`
	// ExpiresAt is the token's own expiry.
	ExpiresAt time.Time `json:"expiresAt"`
}

// entry is one encrypted cache slot.
type entry struct {
	sealed    []byte
	aad       [sha256.Size]byte
	expiresAt time.Time
	// lastAccess is a unix-nano stamp touched on every hit, read by LRU
	// eviction. Atomic so hits under the shared read lock stay write-free.
	lastAccess atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithExpiryFloor overrides the minimum remaining lifetime a hit must have.
func WithExpiryFloor(floor time.Duration) Option {
	return func(c *Cache) {
		c.expiryFloor = floor
	}
}

// WithRootKey injects the root key instead of drawing a random one. Tests
// use this for deterministic ciphertexts.
func WithRootKey(key []byte) Option {
	return func(c *Cache) {
		c.rootKey = key
	}
}

// Cache is the encrypted token cache. It is safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	rootKey  []byte
	sessions map[string]map[Key]*entry
	total    int
	closed   bool

	ttl           time.Duration
	maxPerSession int
	maxTotal      int
	expiryFloor   time.Duration
	now           func() time.Time
	audit         audit.Service
	metrics       *telemetry.Metrics
}

// New builds the cache and draws a fresh root key. The audit service must
// not be nil; pass the no-op sink when auditing is disabled.
func New(cfg config.TokenCacheConfig, auditSvc audit.Service, metrics *telemetry.Metrics, opts ...Option) (*Cache, error) {
	c := &Cache{
		sessions:      make(map[string]map[Key]*entry),
		ttl:           time.Duration(cfg.TTL),
		maxPerSession: cfg.MaxEntriesPerSession,
		maxTotal:      cfg.MaxTotalEntries,
		expiryFloor:   DefaultExpiryFloor,
		now:           time.Now,
		audit:         auditSvc,
		metrics:       metrics,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxPerSession <= 0 {
		c.maxPerSession = DefaultMaxEntriesPerSession
	}
	if c.maxTotal <= 0 {
		c.maxTotal = DefaultMaxTotalEntries
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rootKey == nil {
		key, err := newRootKey()
		if err != nil {
			return nil, err
		}
		c.rootKey = key
	}
	return c, nil
}

// Get looks up the entry for key and decrypts it under the given subject
// token. Misses, expired entries, and AAD mismatches all return ok=false;
// an AAD mismatch additionally leaves an audit entry because it means the
// same key tuple was probed with a different subject token.
func (c *Cache) Get(key Key, subjectToken string) (Token, bool) {
	now := c.now()
	aad := subjectAAD(subjectToken)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.metrics.RecordCacheEvent("miss")
		return Token{}, false
	}
	e := c.sessions[key.SessionID][key]
	dataKey, keyErr := sessionDataKey(c.rootKey, key.SessionID)
	// Writers zeroize an entry's ciphertext in place when they replace or
	// evict it, so decryption must work on a private copy taken before the
	// read lock is released.
	var sealed []byte
	var entryAAD [sha256.Size]byte
	var expiresAt time.Time
	if e != nil {
		sealed = append([]byte(nil), e.sealed...)
		entryAAD = e.aad
		expiresAt = e.expiresAt
	}
	c.mu.RUnlock()

	if e == nil || keyErr != nil {
		zeroize(dataKey)
		zeroize(sealed)
		c.metrics.RecordCacheEvent("miss")
		return Token{}, false
	}
	if !expiresAt.After(now.Add(c.expiryFloor)) {
		zeroize(dataKey)
		zeroize(sealed)
		c.evict(key, e)
		c.metrics.RecordCacheEvent("expired")
		return Token{}, false
	}
	if subtle.ConstantTimeCompare(entryAAD[:], aad[:]) != 1 {
		zeroize(dataKey)
		zeroize(sealed)
		c.audit.Log(audit.NewEntry(audit.SourceCache, "get").
			WithSession("", key.SessionID).
			WithResource(key.Audience).
			Fail("aad_mismatch"))
		c.metrics.RecordCacheEvent("aad_mismatch")
		return Token{}, false
	}

	plaintext, err := open(dataKey, sealed, aad[:])
	zeroize(dataKey)
	zeroize(sealed)
	if err != nil {
		c.audit.Log(audit.NewEntry(audit.SourceCache, "get").
			WithSession("", key.SessionID).
			WithResource(key.Audience).
			FailWithError(err))
		c.metrics.RecordCacheEvent("decrypt_failed")
		return Token{}, false
	}

	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		c.metrics.RecordCacheEvent("decrypt_failed")
		return Token{}, false
	}
	zeroize(plaintext)

	e.lastAccess.Store(now.UnixNano())
	c.metrics.RecordCacheEvent("hit")
	return token, true
}

// Put encrypts and stores the token. The entry lives for the lesser of the
// token's own expiry and the configured TTL. A put colliding with a live
// entry stored under a different subject token keeps the existing entry.
func (c *Cache) Put(key Key, subjectToken string, token Token) error {
	now := c.now()
	expiresAt := token.ExpiresAt
	if byTTL := now.Add(c.ttl); byTTL.Before(expiresAt) {
		expiresAt = byTTL
	}
	if !expiresAt.After(now) {
		return nil // already dead, nothing to store
	}

	plaintext, err := json.Marshal(token)
	if err != nil {
		return err
	}
	aad := subjectAAD(subjectToken)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		zeroize(plaintext)
		return ErrClosed
	}

	dataKey, err := sessionDataKey(c.rootKey, key.SessionID)
	if err != nil {
		zeroize(plaintext)
		return err
	}
	sealed, err := seal(dataKey, plaintext, aad[:])
	zeroize(dataKey)
	zeroize(plaintext)
	if err != nil {
		return err
	}

	session := c.sessions[key.SessionID]
	if existing := session[key]; existing != nil {
		if existing.expiresAt.After(now) && subtle.ConstantTimeCompare(existing.aad[:], aad[:]) != 1 {
			// A live entry under a different subject token wins; discarding
			// the new ciphertext blocks cross-subject overwrites.
			c.audit.Log(audit.NewEntry(audit.SourceCache, "put").
				WithSession("", key.SessionID).
				WithResource(key.Audience).
				Fail("aad_collision"))
			c.metrics.RecordCacheEvent("aad_collision")
			zeroize(sealed)
			return nil
		}
		zeroize(existing.sealed)
		delete(session, key)
		c.total--
	}

	if session == nil {
		session = make(map[Key]*entry)
		c.sessions[key.SessionID] = session
	}
	if len(session) >= c.maxPerSession {
		c.evictLRULocked(session)
	}
	if c.total >= c.maxTotal {
		c.evictGlobalLRULocked()
	}

	e := &entry{sealed: sealed, aad: aad, expiresAt: expiresAt}
	e.lastAccess.Store(now.UnixNano())
	session[key] = e
	c.total++
	c.metrics.RecordCacheEvent("stored")
	return nil
}

// EndSession wipes every entry belonging to the session.
func (c *Cache) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entries, ok := c.sessions[sessionID]; ok {
		for _, e := range entries {
			zeroize(e.sealed)
		}
		c.total -= len(entries)
		delete(c.sessions, sessionID)
	}
}

// Close wipes all entries and zeroizes the root key. Every later operation
// fails closed: reads miss, writes return ErrClosed. Close is idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, entries := range c.sessions {
		for _, e := range entries {
			zeroize(e.sealed)
		}
	}
	c.sessions = make(map[string]map[Key]*entry)
	c.total = 0
	zeroize(c.rootKey)
	c.closed = true
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// evict removes the entry for key if it is still the one observed by the
// caller. Lookups race with writes, so the pointer is re-checked under the
// write lock.
func (c *Cache) evict(key Key, observed *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.sessions[key.SessionID]
	if session[key] == observed {
		zeroize(observed.sealed)
		delete(session, key)
		c.total--
		if len(session) == 0 {
			delete(c.sessions, key.SessionID)
		}
	}
}

// evictLRULocked removes the least recently used entry of one session.
// Caller must hold c.mu.
func (c *Cache) evictLRULocked(session map[Key]*entry) {
	var victimKey Key
	var victim *entry
	for k, e := range session {
		if victim == nil || e.lastAccess.Load() < victim.lastAccess.Load() {
			victimKey, victim = k, e
		}
	}
	if victim != nil {
		zeroize(victim.sealed)
		delete(session, victimKey)
		c.total--
		c.metrics.RecordCacheEvent("evicted")
	}
}

// evictGlobalLRULocked removes the least recently used entry across all
// sessions. Caller must hold c.mu.
func (c *Cache) evictGlobalLRULocked() {
	var victimSession string
	var victimKey Key
	var victim *entry
	for sessionID, session := range c.sessions {
		for k, e := range session {
			if victim == nil || e.lastAccess.Load() < victim.lastAccess.Load() {
				victimSession, victimKey, victim = sessionID, k, e
			}
		}
	}
	if victim != nil {
		zeroize(victim.sealed)
		delete(c.sessions[victimSession], victimKey)
		if len(c.sessions[victimSession]) == 0 {
			delete(c.sessions, victimSession)
		}
		c.total--
		c.metrics.RecordCacheEvent("evicted")
	}
}
