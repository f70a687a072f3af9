// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

// Noop is the disabled audit service. It accepts every call and records
// nothing, so callers never need to branch on whether auditing is enabled.
type Noop struct{}

var _ Service = (*Noop)(nil)

// NewNoop returns the no-op audit service.
func NewNoop() *Noop {
	return &Noop{}
}

// Log discards the entry.
func (*Noop) Log(Entry) {}

// Entries always returns an empty slice.
func (*Noop) Entries(Filter) []Entry {
	return []Entry{}
}

// Clear does nothing.
func (*Noop) Clear() {}
