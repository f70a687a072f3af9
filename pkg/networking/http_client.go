// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking builds the hardened HTTP clients used for outbound
// IdP traffic: OIDC discovery, JWKS retrieval, and token exchange.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stacklok/delego/pkg/validation"
)

// DefaultTimeout is the overall timeout for outgoing HTTP requests.
const DefaultTimeout = 30 * time.Second

// protectedDialerControl validates addresses prior to connection so that
// redirects cannot steer outbound requests at internal infrastructure.
func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	return AddressReferencesPrivateIP(address)
}

// ValidatingTransport rejects non-HTTPS request URLs prior to forwarding.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsed, err := url.Parse(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("the supplied URL %s is malformed", req.URL.String())
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.String())
	}
	return t.Transport.RoundTrip(req)
}

// authenticatedTransport adds Bearer token authentication to HTTP requests.
type authenticatedTransport struct {
	transport http.RoundTripper
	token     string
}

// newAuthenticatedTransport creates an authenticatedTransport with the token
// read from tokenFile.
func newAuthenticatedTransport(transport http.RoundTripper, tokenFile string) (*authenticatedTransport, error) {
	token, err := os.ReadFile(tokenFile) // #nosec G304 - tokenFile path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read auth token file: %w", err)
	}

	tokenStr := strings.TrimSpace(string(token))
	if tokenStr == "" {
		return nil, fmt.Errorf("auth token file is empty")
	}
	// The token lands in an Authorization header; a file with stray control
	// characters must not turn into header injection.
	if err := validation.ValidateHTTPHeaderValue("Bearer " + tokenStr); err != nil {
		return nil, fmt.Errorf("auth token file contents are not a valid header value: %w", err)
	}

	return &authenticatedTransport{
		transport: transport,
		token:     tokenStr,
	}, nil
}

// RoundTrip adds the Authorization header and forwards the request.
func (t *authenticatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original.
	newReq := req.Clone(req.Context())
	newReq.Header.Set("Authorization", "Bearer "+t.token)

	return t.transport.RoundTrip(newReq)
}

// ClientBuilder provides a fluent interface for building HTTP clients.
type ClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	authTokenFile         string
	allowPrivate          bool
}

// NewClientBuilder returns a ClientBuilder with default timeouts.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		clientTimeout:         DefaultTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithCABundle sets the CA certificate bundle path.
func (b *ClientBuilder) WithCABundle(path string) *ClientBuilder {
	b.caCertPath = path
	return b
}

// WithTokenFromFile sets the auth token file path.
func (b *ClientBuilder) WithTokenFromFile(path string) *ClientBuilder {
	b.authTokenFile = path
	return b
}

// WithPrivateIPs allows connections to private IP addresses.
func (b *ClientBuilder) WithPrivateIPs(allow bool) *ClientBuilder {
	b.allowPrivate = allow
	return b
}

// WithTimeout overrides the overall client timeout.
func (b *ClientBuilder) WithTimeout(timeout time.Duration) *ClientBuilder {
	b.clientTimeout = timeout
	return b
}

// Build creates the configured HTTP client.
func (b *ClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if !b.allowPrivate {
		transport.DialContext = (&net.Dialer{
			Control: protectedDialerControl,
		}).DialContext
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}

		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCertPool,
		}
	}

	// Private-IP protection only guards the dialer; HTTPS enforcement is
	// deliberately skipped when private addresses are allowed so local
	// development IdPs can serve plain HTTP.
	var clientTransport http.RoundTripper = transport
	if !b.allowPrivate {
		clientTransport = &ValidatingTransport{Transport: transport}
	}

	if b.authTokenFile != "" {
		transportWithToken, err := newAuthenticatedTransport(clientTransport, b.authTokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create auth transport: %w", err)
		}
		clientTransport = transportWithToken
	}

	return &http.Client{
		Transport: clientTransport,
		Timeout:   b.clientTimeout,
	}, nil
}
