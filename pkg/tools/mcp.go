// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/delego/pkg/auth"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/logger"
)

// NewMCPServer builds the hosting MCP server. Tools are not registered
// globally: an OnRegisterSession hook attaches each session's visible
// subset, and every handler re-checks access at call time, so a client
// never even lists tools its session cannot use.
func NewMCPServer(name, version string, set *ToolSet) *mcpserver.MCPServer {
	hooks := &mcpserver.Hooks{}

	srv := mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(false), // tools are session-scoped
		mcpserver.WithLogging(),
		mcpserver.WithHooks(hooks),
	)

	hooks.AddOnRegisterSession(func(ctx context.Context, clientSession mcpserver.ClientSession) {
		session, ok := auth.SessionFromContext(ctx)
		if !ok {
			// The transport authenticates before the MCP endpoint, so an
			// unauthenticated session registration gets no tools at all.
			logger.Warnw("MCP session registered without authentication, no tools attached",
				"mcp_session_id", clientSession.SessionID())
			return
		}

		sdkTools, err := sessionTools(set, session)
		if err != nil {
			logger.Errorw("Failed to adapt session tools", "error", err)
			return
		}
		if len(sdkTools) == 0 {
			return
		}
		if err := srv.AddSessionTools(clientSession.SessionID(), sdkTools...); err != nil {
			logger.Errorw("Failed to attach session tools",
				"mcp_session_id", clientSession.SessionID(), "error", err)
		}
	})

	return srv
}

// sessionTools adapts the session's visible descriptors to SDK tools.
func sessionTools(set *ToolSet, session delego.UserSession) ([]mcpserver.ServerTool, error) {
	visible := set.ListTools(session)
	sdkTools := make([]mcpserver.ServerTool, 0, len(visible))
	for _, d := range visible {
		schemaJSON, err := json.Marshal(d.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for tool %s: %w", d.Name, err)
		}

		// Dispatch by the server-registered name, never by client input.
		toolName := d.Name
		handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return callTool(ctx, set, toolName, req)
		}

		sdkTools = append(sdkTools, mcpserver.ServerTool{
			Tool: mcp.Tool{
				Name:           d.Name,
				Description:    d.Description,
				RawInputSchema: schemaJSON,
			},
			Handler: handler,
		})
	}
	return sdkTools, nil
}

// callTool executes one MCP tool call through the tool set, re-resolving
// the caller's session from the request context.
func callTool(ctx context.Context, set *ToolSet, toolName string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, ok := auth.SessionFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("authentication required"), nil
	}

	args := map[string]any{}
	if req.Params.Arguments != nil {
		args, ok = req.Params.Arguments.(map[string]any)
		if !ok {
			return envelopeResult(Failure(CodeInvalidArguments))
		}
	}

	return envelopeResult(set.InvokeTool(ctx, session, toolName, args))
}

// envelopeResult renders an envelope as an MCP tool result. Failures are
// flagged through IsError so clients can branch without parsing.
func envelopeResult(env Envelope) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(phrases[CodeModuleFailure]), nil
	}
	if env.Status == StatusFailure {
		return mcp.NewToolResultError(string(payload)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
