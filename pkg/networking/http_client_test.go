// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientBuilder(t *testing.T) {
	t.Parallel()

	builder := NewClientBuilder()
	assert.Equal(t, DefaultTimeout, builder.clientTimeout)
	assert.Equal(t, 10*time.Second, builder.tlsHandshakeTimeout)
	assert.Equal(t, 10*time.Second, builder.responseHeaderTimeout)
	assert.False(t, builder.allowPrivate)
}

func TestClientBuilderBuildDefaults(t *testing.T) {
	t.Parallel()

	client, err := NewClientBuilder().Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.Timeout)

	// Private IPs are disallowed by default, so the HTTPS-enforcing
	// transport wraps the base transport.
	_, ok := client.Transport.(*ValidatingTransport)
	assert.True(t, ok)
}

func TestClientBuilderAllowPrivateSkipsValidation(t *testing.T) {
	t.Parallel()

	client, err := NewClientBuilder().WithPrivateIPs(true).Build()
	require.NoError(t, err)

	_, ok := client.Transport.(*ValidatingTransport)
	assert.False(t, ok, "private-IP clients must not enforce HTTPS")
}

func TestClientBuilderWithTimeout(t *testing.T) {
	t.Parallel()

	client, err := NewClientBuilder().WithTimeout(5 * time.Second).Build()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestClientBuilderWithCABundle(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewClientBuilder().WithCABundle("/nonexistent/ca.pem").Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read CA certificate bundle")
	})

	t.Run("invalid PEM", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

		_, err := NewClientBuilder().WithCABundle(path).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse CA certificate bundle")
	})
}

func TestClientBuilderWithTokenFromFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := NewClientBuilder().WithTokenFromFile("/nonexistent/token").Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read auth token file")
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

		_, err := NewClientBuilder().WithTokenFromFile(path).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth token file is empty")
	})

	t.Run("control characters rejected", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("secret\x00token"), 0o600))

		_, err := NewClientBuilder().WithTokenFromFile(path).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a valid header value")
	})

	t.Run("token applied to requests", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("secret-token\n"), 0o600))

		client, err := NewClientBuilder().WithTokenFromFile(path).WithPrivateIPs(true).Build()
		require.NoError(t, err)

		recorder := &recordingTransport{}
		auth, ok := client.Transport.(*authenticatedTransport)
		require.True(t, ok)
		auth.transport = recorder

		req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
		require.NoError(t, err)
		resp, err := client.Transport.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.NotNil(t, recorder.req)
		assert.Equal(t, "Bearer secret-token", recorder.req.Header.Get("Authorization"))
		assert.Empty(t, req.Header.Get("Authorization"), "original request must not be mutated")
	})
}

func TestValidatingTransportRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{
			name: "https allowed",
			url:  "https://example.com/token",
		},
		{
			name:    "http rejected",
			url:     "http://example.com/token",
			wantErr: "not HTTPS scheme",
		},
		{
			name:    "ftp rejected",
			url:     "ftp://example.com/token",
			wantErr: "not HTTPS scheme",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recorder := &recordingTransport{}
			transport := &ValidatingTransport{Transport: recorder}

			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			require.NoError(t, err)

			resp, err := transport.RoundTrip(req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, recorder.req, "rejected request must not be forwarded")
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()
			require.NotNil(t, recorder.req)
		})
	}
}

// recordingTransport captures the forwarded request without dialing.
type recordingTransport struct {
	req *http.Request
}

func (r *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r.req = req
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}
