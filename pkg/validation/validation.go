// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package validation provides functions for validating input data.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var validIdentifierRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-.:]*$`)

// allowedAlgorithms is the set of JWT signing algorithms accepted anywhere in
// the engine. Symmetric and "none" algorithms are rejected by construction.
var allowedAlgorithms = map[string]struct{}{
	"RS256": {},
	"ES256": {},
}

// ValidateIdentifier validates a logical name used as a lookup key (IdP names,
// delegation module names, tool names). Identifiers are lowercase alphanumeric
// with underscore, dash, dot, and colon separators, must start with an
// alphanumeric character, and cannot contain whitespace or null bytes.
func ValidateIdentifier(name string) error {
	if name == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("identifier cannot be empty or consist only of whitespace")
	}

	// Check for null bytes explicitly
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("identifier cannot contain null bytes")
	}

	if len(name) > 128 {
		return fmt.Errorf("identifier exceeds maximum length of 128 bytes: %q", name)
	}

	// Enforce lowercase-only identifiers
	if name != strings.ToLower(name) {
		return fmt.Errorf("identifier must be lowercase: %q", name)
	}

	// Validate characters
	if !validIdentifierRegex.MatchString(name) {
		return fmt.Errorf("identifier can only contain lowercase alphanumeric characters, underscores, dashes, dots, and colons: %q", name)
	}

	return nil
}

// ValidateAlgorithm validates that a JWT signing algorithm is one the engine
// accepts. Only RS256 and ES256 are allowed; "none" and symmetric algorithms
// always fail.
func ValidateAlgorithm(name string) error {
	if name == "" {
		return fmt.Errorf("algorithm cannot be empty")
	}
	if _, ok := allowedAlgorithms[name]; !ok {
		return fmt.Errorf("algorithm %q is not allowed (accepted: RS256, ES256)", name)
	}
	return nil
}

// ValidateHTTPSURL validates that a URL is well formed and uses the https
// scheme. Loopback hosts (localhost, 127.0.0.0/8, ::1) may use plain http so
// local development setups and tests keep working.
func ValidateHTTPSURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host: %q", rawURL)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return fmt.Errorf("URL %q must use https (http is only allowed for loopback hosts)", rawURL)
	default:
		return fmt.Errorf("URL %q must use the https scheme", rawURL)
	}
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateHTTPHeaderValue validates that a string is a valid HTTP header value per RFC 7230.
// It checks for CRLF injection and control characters.
func ValidateHTTPHeaderValue(value string) error {
	if value == "" {
		return fmt.Errorf("header value cannot be empty")
	}

	// Length limit to prevent DoS (common HTTP server limit)
	if len(value) > 8192 {
		return fmt.Errorf("header value exceeds maximum length of 8192 bytes")
	}

	// Use httpguts validation (same as Go's HTTP/2 implementation)
	if !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("invalid HTTP header value: contains control characters")
	}

	return nil
}

// ValidateResourceURI validates that a resource URI conforms to MCP specification requirements
// for canonical URIs (RFC 8707).
// This is used for user-provided values that should not be normalized.
//
// According to MCP spec, a valid canonical URI must:
// - Include a scheme (http/https)
// - Include a host
// - Not contain fragments
func ValidateResourceURI(resourceURI string) error {
	if resourceURI == "" {
		return fmt.Errorf("resource URI cannot be empty")
	}

	// Parse the URI
	parsed, err := url.Parse(resourceURI)
	if err != nil {
		return fmt.Errorf("invalid resource URI: %w", err)
	}

	// Must have a scheme
	if parsed.Scheme == "" {
		return fmt.Errorf("resource URI must include a scheme (e.g., https://): %s", resourceURI)
	}

	// Must have a host
	if parsed.Host == "" {
		return fmt.Errorf("resource URI must include a host: %s", resourceURI)
	}

	// Must not contain fragments
	if parsed.Fragment != "" {
		return fmt.Errorf("resource URI must not contain fragments (#): %s", resourceURI)
	}

	return nil
}
