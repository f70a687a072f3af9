// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jwks caches JSON Web Key Sets fetched from identity providers.
//
// The cache is keyed by JWKS URI. Fetches are single-flight per URI so
// concurrent validations against the same provider trigger at most one
// network round trip, and the forced-refresh path used when a token carries
// an unknown kid is rate-limited per URI to defeat kid-cycling denial of
// service.
package jwks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/delego/pkg/logger"
)

const (
	// DefaultTTL is how long a fetched key set is served before a routine
	// refresh.
	DefaultTTL = 5 * time.Minute

	// DefaultRefreshWindow rate-limits forced refreshes triggered by an
	// unknown kid to one attempt per URI per window.
	DefaultRefreshWindow = 10 * time.Second

	// maxResponseBodySize caps JWKS document reads (1 MB).
	maxResponseBodySize = 1 << 20
)

// ErrKeyNotFound is returned when a kid is absent from the key set even
// after a forced refresh.
var ErrKeyNotFound = fmt.Errorf("key not found in JWKS")

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the routine refresh interval.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithRefreshWindow overrides the forced-refresh rate limit window.
func WithRefreshWindow(window time.Duration) Option {
	return func(c *Cache) {
		c.refreshWindow = window
	}
}

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

type entry struct {
	set         jwk.Set
	fetchedAt   time.Time
	lastForced  time.Time
	forcedCount int
}

// Cache is a TTL key-set cache with single-flight refresh.
type Cache struct {
	client        *http.Client
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// New builds a Cache with the default TTL and refresh window.
func New(opts ...Option) *Cache {
	c := &Cache{
		client:        &http.Client{Timeout: 10 * time.Second},
		ttl:           DefaultTTL,
		refreshWindow: DefaultRefreshWindow,
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the key set for the given URI, fetching it if absent or past
// its TTL. Concurrent callers share one in-flight fetch per URI.
func (c *Cache) Get(ctx context.Context, jwksURI string) (jwk.Set, error) {
	c.mu.RLock()
	e, ok := c.entries[jwksURI]
	c.mu.RUnlock()

	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.set, nil
	}
	return c.refresh(ctx, jwksURI, false)
}

// KeyByID returns the key with the given kid from the URI's key set. When
// the kid is absent it forces one refresh, subject to the per-URI rate
// limit, before giving up with ErrKeyNotFound.
func (c *Cache) KeyByID(ctx context.Context, jwksURI, kid string) (jwk.Key, error) {
	set, err := c.Get(ctx, jwksURI)
	if err != nil {
		return nil, err
	}
	if key, found := set.LookupKeyID(kid); found {
		return key, nil
	}

	// Unknown kid: the provider may have rotated keys since the last fetch.
	if !c.allowForcedRefresh(jwksURI) {
		return nil, fmt.Errorf("%w: kid %q (refresh rate-limited)", ErrKeyNotFound, kid)
	}
	set, err = c.refresh(ctx, jwksURI, true)
	if err != nil {
		return nil, err
	}
	if key, found := set.LookupKeyID(kid); found {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Preflight fetches the key sets for all given URIs in parallel and returns
// the per-URI fetch errors. An unreachable provider is a warning to the
// caller, not a failure of the others.
func (c *Cache) Preflight(ctx context.Context, jwksURIs []string) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)

	group, ctx := errgroup.WithContext(ctx)
	for _, uri := range jwksURIs {
		group.Go(func() error {
			if _, err := c.Get(ctx, uri); err != nil {
				mu.Lock()
				failures[uri] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return failures
}

// allowForcedRefresh records a forced-refresh attempt for the URI and
// reports whether it falls within the rate limit.
func (c *Cache) allowForcedRefresh(jwksURI string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[jwksURI]
	if !ok {
		return true
	}
	if c.now().Sub(e.lastForced) < c.refreshWindow {
		return false
	}
	e.lastForced = c.now()
	e.forcedCount++
	return true
}

// refresh fetches the key set, deduplicating concurrent callers through the
// single-flight group. A forced refresh bypasses the TTL double-check.
func (c *Cache) refresh(ctx context.Context, jwksURI string, forced bool) (jwk.Set, error) {
	result, err, _ := c.group.Do(jwksURI, func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		if !forced {
			c.mu.RLock()
			e, ok := c.entries[jwksURI]
			c.mu.RUnlock()
			if ok && c.now().Sub(e.fetchedAt) < c.ttl {
				return e.set, nil
			}
		}

		set, err := c.fetch(ctx, jwksURI)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		e, ok := c.entries[jwksURI]
		if !ok {
			e = &entry{}
			c.entries[jwksURI] = e
		}
		e.set = set
		e.fetchedAt = c.now()
		c.mu.Unlock()

		logger.Debugw("refreshed JWKS", "jwks_uri", jwksURI, "keys", set.Len(), "forced", forced)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(jwk.Set), nil
}

func (c *Cache) fetch(ctx context.Context, jwksURI string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", jwksURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint %s returned status %d", jwksURI, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing JWKS document: %w", err)
	}
	return set, nil
}
