// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// rootKeySize is the size of the process-wide root key: 256 bits for
// AES-256-GCM data keys.
const rootKeySize = 32

// hkdfInfo binds derived keys to this use so a shared root key could never
// yield the same data key for another purpose.
const hkdfInfo = "delego token cache v1"

// newRootKey draws a fresh 256-bit root key. The key never leaves the
// process and is rotated simply by restarting, so cached ciphertexts are
// unreadable across restarts by construction.
func newRootKey() ([]byte, error) {
	key := make([]byte, rootKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate cache root key: %w", err)
	}
	return key, nil
}

// sessionDataKey derives the per-session AES-256 data key via HKDF-SHA256
// with the session id as salt. Entries of different sessions are therefore
// encrypted under unrelated keys.
func sessionDataKey(rootKey []byte, sessionID string) ([]byte, error) {
	reader := hkdf.New(sha256.New, rootKey, []byte(sessionID), []byte(hkdfInfo))
	key := make([]byte, rootKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive session data key: %w", err)
	}
	return key, nil
}

// subjectAAD computes the additional authenticated data binding an entry to
// the subject token it was exchanged from.
func subjectAAD(subjectToken string) [sha256.Size]byte {
	return sha256.Sum256([]byte(subjectToken))
}

// seal encrypts plaintext under the session data key with a fresh nonce and
// the given AAD. The nonce is prepended to the returned ciphertext.
func seal(dataKey, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// open decrypts a ciphertext produced by seal. It fails if the key, the
// nonce, or the AAD does not match.
func open(dataKey, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt cache entry: %w", err)
	}
	return plaintext, nil
}

// zeroize overwrites a byte slice in place.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
