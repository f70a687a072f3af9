// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressReferencesPrivateIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		private bool
	}{
		{
			name:    "public IPv4",
			address: "8.8.8.8:443",
			private: false,
		},
		{
			name:    "IPv4 loopback",
			address: "127.0.0.1:443",
			private: true,
		},
		{
			name:    "RFC1918 10/8",
			address: "10.0.12.7:8080",
			private: true,
		},
		{
			name:    "RFC1918 172.16/12",
			address: "172.20.1.1:443",
			private: true,
		},
		{
			name:    "RFC1918 192.168/16",
			address: "192.168.1.50:443",
			private: true,
		},
		{
			name:    "link-local",
			address: "169.254.169.254:80",
			private: true,
		},
		{
			name:    "IPv6 loopback",
			address: "[::1]:443",
			private: true,
		},
		{
			name:    "IPv6 unique local",
			address: "[fc00::1]:443",
			private: true,
		},
		{
			name:    "public IPv6",
			address: "[2001:4860:4860::8888]:443",
			private: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := AddressReferencesPrivateIP(tt.address)
			if tt.private {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "private IP address")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAddressReferencesPrivateIPMalformed(t *testing.T) {
	t.Parallel()

	// No port separator means the address cannot be split.
	err := AddressReferencesPrivateIP("127.0.0.1")
	require.Error(t, err)
}
