// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the delego delegation engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/delego/cmd/delego/app"
	"github.com/stacklok/delego/pkg/logger"
)

func main() {
	// Cancel the root context on signal so serve tears down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
