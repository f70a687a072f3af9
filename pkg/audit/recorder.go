// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OverflowFunc receives entries evicted from a full ring buffer. It runs
// outside the recorder lock, so implementations may log, forward, or block
// without stalling concurrent writers beyond their own append.
type OverflowFunc func(Entry)

// Option configures a Recorder.
type Option func(*Recorder)

// WithOverflowCallback registers a callback invoked with every entry evicted
// due to the MaxEntries cap.
func WithOverflowCallback(fn OverflowFunc) Option {
	return func(r *Recorder) {
		r.overflow = fn
	}
}

// WithClock overrides the time source. Tests use this to exercise retention
// pruning deterministically.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder is the recording audit service: a bounded in-memory ring buffer
// that mirrors every entry to the structured logger at LevelAudit.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry // ring storage, oldest at head
	head    int
	count   int

	maxEntries int
	retention  time.Duration
	overflow   OverflowFunc
	logger     *slog.Logger
	now        func() time.Time
}

var _ Service = (*Recorder)(nil)

// NewRecorder builds a recording audit service from config.
func NewRecorder(cfg Config, logger *slog.Logger, opts ...Option) *Recorder {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		entries:    make([]Entry, maxEntries),
		maxEntries: maxEntries,
		retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Log appends an entry. When the buffer is full the oldest entry is evicted
// and handed to the overflow callback outside the lock.
func (r *Recorder) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}

	var evicted []Entry

	r.mu.Lock()
	evicted = r.pruneExpiredLocked(evicted)
	if r.count == r.maxEntries {
		evicted = append(evicted, r.entries[r.head])
		r.head = (r.head + 1) % r.maxEntries
		r.count--
	}
	r.entries[(r.head+r.count)%r.maxEntries] = entry
	r.count++
	r.mu.Unlock()

	// The overflow callback and log mirror run outside the lock so a slow
	// consumer cannot stall concurrent writers.
	if r.overflow != nil {
		for _, e := range evicted {
			r.overflow(e)
		}
	}
	entry.logTo(context.Background(), r.logger)
}

// Entries returns recorded entries matching the filter, oldest first.
func (r *Recorder) Entries(filter Filter) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]Entry, 0, r.count)
	cutoff := r.retentionCutoff()
	for i := 0; i < r.count; i++ {
		e := r.entries[(r.head+i)%r.maxEntries]
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	return matched
}

// Clear discards all recorded entries.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}

// pruneExpiredLocked drops entries past the retention window and returns them
// appended to evicted. Caller must hold r.mu.
func (r *Recorder) pruneExpiredLocked(evicted []Entry) []Entry {
	cutoff := r.retentionCutoff()
	if cutoff.IsZero() {
		return evicted
	}
	for r.count > 0 && r.entries[r.head].Timestamp.Before(cutoff) {
		evicted = append(evicted, r.entries[r.head])
		r.head = (r.head + 1) % r.maxEntries
		r.count--
	}
	return evicted
}

func (r *Recorder) retentionCutoff() time.Time {
	if r.retention <= 0 {
		return time.Time{}
	}
	return r.now().UTC().Add(-r.retention)
}
