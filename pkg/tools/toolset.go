// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/validation"
)

// SourceTools tags audit entries emitted by the tool dispatch surface.
const SourceTools = audit.Source("tools")

// Handler executes one tool call for an authenticated session.
type Handler func(ctx context.Context, session delego.UserSession, args map[string]any) Envelope

// Descriptor describes one tool: its wire metadata, its visibility
// predicate, and its handler.
type Descriptor struct {
	// Name is the tool's unique name.
	Name string
	// Description is the human-readable tool description.
	Description string
	// Schema is the tool's JSON input schema.
	Schema map[string]any
	// CanAccess reports whether the session may see and call the tool. It
	// must be a pure predicate: the transport calls it to filter listings.
	CanAccess func(session delego.UserSession) bool
	// Handler executes the call. The tool set re-checks CanAccess before
	// invoking it.
	Handler Handler
}

// ToolSet is the fixed collection of tools the engine serves. It is built
// once at startup and read-only afterwards.
type ToolSet struct {
	order  []string
	byName map[string]Descriptor
	audit  audit.Service
}

// NewToolSet builds a tool set, rejecting duplicate or invalid tool names.
func NewToolSet(auditSvc audit.Service, descriptors ...Descriptor) (*ToolSet, error) {
	s := &ToolSet{
		byName: make(map[string]Descriptor, len(descriptors)),
		audit:  auditSvc,
	}
	for _, d := range descriptors {
		if err := validation.ValidateIdentifier(d.Name); err != nil {
			return nil, delego.WrapError(delego.KindConfiguration,
				"invalid tool name "+d.Name, err)
		}
		if _, exists := s.byName[d.Name]; exists {
			return nil, delego.Errorf(delego.KindConfiguration, "duplicate tool name %q", d.Name)
		}
		s.byName[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s, nil
}

// ListTools returns the descriptors visible to the session, in registration
// order. A tool whose CanAccess returns false is absent, not disabled.
func (s *ToolSet) ListTools(session delego.UserSession) []Descriptor {
	visible := make([]Descriptor, 0, len(s.order))
	for _, name := range s.order {
		d := s.byName[name]
		if d.CanAccess(session) {
			visible = append(visible, d)
		}
	}
	return visible
}

// InvokeTool dispatches one call. Unknown names fail with unknown_tool; a
// session that passes listing but fails the execution-time re-check gets
// forbidden with an audit entry, closing the gap between listing time and
// call time.
func (s *ToolSet) InvokeTool(ctx context.Context, session delego.UserSession, name string, args map[string]any) Envelope {
	d, ok := s.byName[name]
	if !ok {
		return Failure(CodeUnknownTool)
	}
	if !d.CanAccess(session) {
		s.audit.Log(audit.NewEntry(SourceTools, "invoke_tool").
			WithSession(session.UserID, session.SessionID).
			WithResource(name).
			Fail("forbidden at execution time"))
		return Failure(CodeForbidden)
	}
	return d.Handler(ctx, session, args)
}
