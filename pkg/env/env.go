// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package env provides an interface for reading environment variables so that
// code depending on the process environment can be tested with injected values.
package env

import "os"

// Reader reads environment variables.
//
//go:generate mockgen -destination=mocks/mock_reader.go -package=mocks -source=env.go Reader
type Reader interface {
	// Getenv returns the value of the named environment variable.
	// It returns the empty string if the variable is not set.
	Getenv(key string) string
}

// OSReader reads environment variables from the process environment.
type OSReader struct{}

// Getenv returns the value of the named environment variable.
func (*OSReader) Getenv(key string) string {
	return os.Getenv(key)
}
