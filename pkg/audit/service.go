// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"log/slog"
	"time"
)

// Service is the audit surface every engine component writes to.
// Implementations must be safe for concurrent use.
//
//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go Service
type Service interface {
	// Log appends an entry to the trail.
	Log(entry Entry)

	// Entries returns the recorded entries matching the filter, oldest first.
	Entries(filter Filter) []Entry

	// Clear discards all recorded entries.
	Clear()
}

// Filter selects audit entries. Zero-valued fields match everything.
type Filter struct {
	// From excludes entries recorded before this time.
	From time.Time
	// To excludes entries recorded at or after this time.
	To time.Time
	// Source restricts to entries from one component.
	Source Source
	// UserID restricts to entries about one user.
	UserID string
	// Success restricts by outcome when non-nil.
	Success *bool
}

func (f Filter) matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// Config holds the audit section of the engine configuration.
type Config struct {
	// Enabled turns the recording sink on. When false the engine wires the
	// null object instead.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MaxEntries bounds the ring buffer. Defaults to DefaultMaxEntries.
	MaxEntries int `json:"maxEntries,omitempty" yaml:"maxEntries,omitempty"`
	// RetentionDays prunes entries older than this many days. Zero disables
	// time-based pruning.
	RetentionDays int `json:"retentionDays,omitempty" yaml:"retentionDays,omitempty"`
}

// DefaultMaxEntries is the ring buffer capacity used when the config leaves
// MaxEntries unset.
const DefaultMaxEntries = 1000

// New builds the audit service for the given config: a recording sink when
// enabled, the null object otherwise.
func New(cfg Config, logger *slog.Logger, opts ...Option) Service {
	if !cfg.Enabled {
		return NewNoop()
	}
	return NewRecorder(cfg, logger, opts...)
}
