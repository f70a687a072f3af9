// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package delego defines the domain types shared across the engine's
// subpackages: the framework role model, the per-request user session, and
// the classified error type every component reports through.
//
// Subpackages (auth, tokenexchange, delegation, tools) depend on this
// package, never on each other's internals, so the dependency graph stays a
// tree rooted here.
package delego
