// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the in-memory audit trail every engine component
// writes to.
//
// The audit service is never nil: when auditing is disabled the engine wires
// a null object with the same surface and zero side effects, so components
// never branch on whether auditing is enabled. The recording implementation
// keeps a bounded ring buffer, invokes an optional overflow callback with each
// evicted entry, and mirrors every entry to the structured logger at
// [LevelAudit] so external log pipelines can drain the trail.
package audit
