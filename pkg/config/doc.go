// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model for the delegation engine.
//
// A single document (YAML or JSON) carries three sections: auth (trusted
// IdPs plus the audit sink), delegation (modules, token exchange, token
// cache), and mcp (the hosting transport). Any string-valued field may be
// supplied as a {"$secret": "NAME"} descriptor; the loader substitutes the
// value through the secrets resolution chain before decoding, and fails the
// load if a name cannot be resolved.
package config
