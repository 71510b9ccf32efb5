// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianLex/pkg/telemetry"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// =============================================================================
// Command
// =============================================================================

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the answer and lookup tools over MCP stdio",
		Long: `Serve the answer pipeline and its individual steps as MCP tools on
stdin/stdout. Logs go only to the configured log directory.`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			a.quietLogs = true
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			// stdout belongs to the protocol.
			a.cfg.Telemetry.TraceExporter = telemetry.ExporterNone
			if a.cfg.Telemetry.MetricExporter == telemetry.ExporterStdout {
				a.cfg.Telemetry.MetricExporter = telemetry.ExporterNone
			}

			svc, err := a.newService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			server := newToolServer(svc.Answer(), svc.Actions()).mcpServer(a.cfg.Telemetry.ServiceVersion)
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

// =============================================================================
// Tools
// =============================================================================

var (
	toolAnswer = &mcp.Tool{
		Name: "answer",
		Description: "Answer a question about EU regulatory text using only the versions in force on " +
			"as_of_date. Every paragraph of answer_text cites paragraph ids in square brackets; " +
			"status is DONE, REFUSED (with refusal_reason) or FAILED.",
	}
	toolResolveScope = &mcp.Tool{
		Name:        "resolve_scope",
		Description: "List the expression (consolidated version) of each work that is in force on a date.",
	}
	toolResolveTemporalScope = &mcp.Tool{
		Name:        "resolve_temporal_scope",
		Description: `Turn "current", "last year", "YYYY" or "YYYY-MM-DD" into a date or date range.`,
	}
	toolGetValidVersion = &mcp.Tool{
		Name: "get_valid_version",
		Description: "Return the expression in force on a date for a work, expression, article or " +
			"paragraph. Pass urn:<kind>:<id> with kind work, expression, article or paragraph, " +
			"or a bare work id.",
	}
	toolSearchTextUnits = &mcp.Tool{
		Name:        "search_text_units",
		Description: "Search the paragraphs of one expression by meaning, with keyword fallback.",
	}
)

// AnswerInput is the input of the answer tool.
type AnswerInput struct {
	Question     string   `json:"question" jsonschema:"the question to answer"`
	AsOf         string   `json:"as_of_date,omitempty" jsonschema:"YYYY-MM-DD or current; default today"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"number of evidence paragraphs, 1 to 50"`
	Jurisdiction string   `json:"jurisdiction,omitempty" jsonschema:"restrict to works of this jurisdiction"`
	WorkIDs      []string `json:"work_ids,omitempty" jsonschema:"restrict to these work ids"`
}

// ScopeInput is the input of the resolve_scope tool.
type ScopeInput struct {
	AsOf         string   `json:"as_of_date,omitempty" jsonschema:"resolution date; default today"`
	Jurisdiction string   `json:"jurisdiction,omitempty" jsonschema:"restrict to works of this jurisdiction"`
	WorkIDs      []string `json:"work_ids,omitempty" jsonschema:"restrict to these work ids"`
}

// TemporalScopeInput is the input of the resolve_temporal_scope tool.
type TemporalScopeInput struct {
	Expression string `json:"expression" jsonschema:"current, last year, YYYY or YYYY-MM-DD"`
}

// ValidVersionInput is the input of the get_valid_version tool.
type ValidVersionInput struct {
	ComponentID string `json:"component_id" jsonschema:"urn:<kind>:<id> or a bare work id"`
	Date        string `json:"date" jsonschema:"YYYY-MM-DD"`
}

// SearchInput is the input of the search_text_units tool.
type SearchInput struct {
	ExpressionID string `json:"expression_id" jsonschema:"expression to search"`
	Query        string `json:"query" jsonschema:"search text"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum results, 1 to 50"`
}

// toolServer adapts the application services to MCP tool handlers.
type toolServer struct {
	answer  handlers.Answerer
	actions handlers.Actions
}

func newToolServer(answer handlers.Answerer, actions handlers.Actions) *toolServer {
	return &toolServer{answer: answer, actions: actions}
}

func (t *toolServer) mcpServer(version string) *mcp.Server {
	if version == "" {
		version = telemetry.DefaultConfig().ServiceVersion
	}
	server := mcp.NewServer(&mcp.Implementation{Name: serviceName, Version: version}, nil)
	mcp.AddTool(server, toolAnswer, t.Answer)
	mcp.AddTool(server, toolResolveScope, t.ResolveScope)
	mcp.AddTool(server, toolResolveTemporalScope, t.ResolveTemporalScope)
	mcp.AddTool(server, toolGetValidVersion, t.GetValidVersion)
	mcp.AddTool(server, toolSearchTextUnits, t.SearchTextUnits)
	return server
}

// Answer runs the pipeline. A FAILED response is returned as a tool error
// result carrying the response body, so the host sees both.
func (t *toolServer) Answer(ctx context.Context, _ *mcp.CallToolRequest, in AnswerInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.answer.Answer(ctx, datatypes.AnswerRequest{
		Question:     in.Question,
		AsOf:         in.AsOf,
		TopK:         in.TopK,
		Jurisdiction: in.Jurisdiction,
		WorkIDs:      in.WorkIDs,
	})
	if resp == nil {
		return nil, nil, err
	}
	res, jerr := jsonResult(resp)
	if jerr != nil {
		return nil, nil, jerr
	}
	res.IsError = err != nil
	return res, nil, nil
}

func (t *toolServer) ResolveScope(ctx context.Context, _ *mcp.CallToolRequest, in ScopeInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.actions.ResolveScope(ctx, datatypes.ScopeRequest{
		AsOf:         in.AsOf,
		Jurisdiction: in.Jurisdiction,
		WorkIDs:      in.WorkIDs,
	})
	if err != nil {
		return nil, nil, err
	}
	res, err := jsonResult(resp)
	return res, nil, err
}

func (t *toolServer) ResolveTemporalScope(ctx context.Context, _ *mcp.CallToolRequest, in TemporalScopeInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.actions.ResolveTemporalScope(ctx, datatypes.TemporalScopeRequest{Expression: in.Expression})
	if err != nil {
		return nil, nil, err
	}
	res, err := jsonResult(resp)
	return res, nil, err
}

func (t *toolServer) GetValidVersion(ctx context.Context, _ *mcp.CallToolRequest, in ValidVersionInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.actions.GetValidVersion(ctx, datatypes.ValidVersionRequest{ComponentID: in.ComponentID, Date: in.Date})
	if err != nil {
		return nil, nil, err
	}
	res, err := jsonResult(resp)
	return res, nil, err
}

func (t *toolServer) SearchTextUnits(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	resp, err := t.actions.SearchTextUnits(ctx, datatypes.SearchTextUnitsRequest{
		ExpressionID: in.ExpressionID,
		Query:        in.Query,
		Limit:        in.Limit,
	})
	if err != nil {
		return nil, nil, err
	}
	res, err := jsonResult(resp)
	return res, nil, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
}
