// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/delego"
)

func newTestRecorder() *audit.Recorder {
	return audit.NewRecorder(
		audit.Config{Enabled: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func staticTool(name string, canAccess func(delego.UserSession) bool) Descriptor {
	return Descriptor{
		Name:        name,
		Description: name + " tool",
		Schema:      map[string]any{"type": "object"},
		CanAccess:   canAccess,
		Handler: func(_ context.Context, _ delego.UserSession, args map[string]any) Envelope {
			return Success(map[string]any{"tool": name, "args": args})
		},
	}
}

func adminOnly(session delego.UserSession) bool { return session.HasRole(delego.RoleAdmin) }

func anyAssigned(session delego.UserSession) bool { return session.Role != delego.RoleUnassigned }

func TestNewToolSetRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := NewToolSet(newTestRecorder(),
		staticTool("billing", anyAssigned),
		staticTool("billing", anyAssigned),
	)
	require.Error(t, err)
	assert.True(t, delego.IsKind(err, delego.KindConfiguration))
}

func TestListToolsFiltersByVisibility(t *testing.T) {
	t.Parallel()

	set, err := NewToolSet(newTestRecorder(),
		staticTool("open", anyAssigned),
		staticTool("restricted", adminOnly),
	)
	require.NoError(t, err)

	user := delego.UserSession{SessionID: "s-1", Role: delego.RoleUser}
	visible := set.ListTools(user)
	require.Len(t, visible, 1)
	assert.Equal(t, "open", visible[0].Name)

	admin := delego.UserSession{SessionID: "s-2", Role: delego.RoleAdmin}
	assert.Len(t, set.ListTools(admin), 2)
}

func TestInvokeToolDispatches(t *testing.T) {
	t.Parallel()

	set, err := NewToolSet(newTestRecorder(), staticTool("open", anyAssigned))
	require.NoError(t, err)

	env := set.InvokeTool(context.Background(),
		delego.UserSession{Role: delego.RoleUser}, "open", map[string]any{"k": "v"})
	assert.Equal(t, StatusSuccess, env.Status)
	assert.Equal(t, "open", env.Data["tool"])
}

func TestInvokeToolUnknownName(t *testing.T) {
	t.Parallel()

	set, err := NewToolSet(newTestRecorder(), staticTool("open", anyAssigned))
	require.NoError(t, err)

	env := set.InvokeTool(context.Background(), delego.UserSession{Role: delego.RoleUser}, "ghost", nil)
	assert.Equal(t, StatusFailure, env.Status)
	assert.Equal(t, CodeUnknownTool, env.Code)
	assert.NotEmpty(t, env.Message)
}

func TestInvokeToolReChecksAccessAtExecution(t *testing.T) {
	t.Parallel()

	recorder := newTestRecorder()
	set, err := NewToolSet(recorder, staticTool("restricted", adminOnly))
	require.NoError(t, err)

	// A session that slipped past listing (or lost its role since) is
	// refused at call time.
	env := set.InvokeTool(context.Background(),
		delego.UserSession{SessionID: "s-1", UserID: "u-1", Role: delego.RoleUser}, "restricted", nil)
	assert.Equal(t, StatusFailure, env.Status)
	assert.Equal(t, CodeForbidden, env.Code)

	entries := recorder.Entries(audit.Filter{Source: SourceTools})
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "restricted", entries[0].Resource)
}

func TestFailureEnvelopePhrases(t *testing.T) {
	t.Parallel()

	for _, code := range []Code{CodeForbidden, CodeUnknownTool, CodeInvalidArguments, CodeModuleFailure, CodeTokenExchangeFailed} {
		env := Failure(code)
		assert.Equal(t, StatusFailure, env.Status)
		assert.Equal(t, code, env.Code)
		assert.NotEmpty(t, env.Message, "code %s needs a phrase", code)
	}
}
