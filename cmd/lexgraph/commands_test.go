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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianLex/services/orchestrator"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/config"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoFixture = "../../fixtures/arena.yaml"

// =============================================================================
// Helpers
// =============================================================================

type firstCitation struct{}

func (firstCitation) Generate(ctx context.Context, req services.GenerationRequest) (string, error) {
	if req.Evidence.Len() == 0 {
		return datatypes.InsufficientInformationMessage, nil
	}
	return fmt.Sprintf("The cited provision applies [%s].", req.Evidence.Items[0].ParagraphID), nil
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lexgraph.yaml")
	content := fmt.Sprintf(`
store:
  backend: memory
  fixture: %s
telemetry:
  trace_exporter: none
  metric_exporter: none
logging:
  level: error
`, repoFixture)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCmd executes the root command with an offline service factory and
// returns stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{
		newService: func(ctx context.Context, cfg *config.Config) (orchestrator.Service, error) {
			return orchestrator.New(ctx, cfg,
				orchestrator.WithRegistry(prometheus.NewRegistry()),
				orchestrator.WithGenerator(firstCitation{}),
				orchestrator.WithoutTelemetry(),
			)
		},
	}
	root := a.rootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// Command Tree
// =============================================================================

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "ask", "resolve", "fixtures", "mcp"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	_, err := runCmd(t, "ask")
	assert.Error(t, err)
}

// =============================================================================
// ask / resolve
// =============================================================================

func TestAskCmd_PrintsGroundedResponse(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "--config", cfg, "ask",
		"What must a crypto-asset white paper contain?",
		"--as-of", "2025-06-01", "--work", "EU-MICA")
	require.NoError(t, err)

	var resp datatypes.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, datatypes.StatusDone, resp.Status)
	assert.Equal(t, []string{"EU-MICA-2024"}, resp.ResolvedScope.ExpressionIDs)
	assert.NotEmpty(t, resp.Citations)
}

func TestResolveCmd_HistoricalDate(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCmd(t, "--config", cfg, "resolve", "--as-of", "2017-06-01", "--work", "EU-PSD2")
	require.NoError(t, err)

	var resp services.ScopeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []string{"EU-PSD2-2015"}, resp.ResolvedScope.ExpressionIDs)
}

func TestResolveCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "resolve")
	assert.Error(t, err)
}

// =============================================================================
// fixtures check
// =============================================================================

func TestCheckFixture_RepositoryFixtureIsValid(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, checkFixture(&out, repoFixture))
	assert.Contains(t, out.String(), "works=3 expressions=4")
	assert.Contains(t, out.String(), "violations=0")
}

func TestCheckFixture_ReportsViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
works: [{id: W}]
expressions:
  - {id: W-1, work_id: W, valid_from: "2020-01-01"}
  - {id: W-2, work_id: W, valid_from: "2021-01-01"}
  - {id: W-3, work_id: W, valid_from: "2019-01-01", valid_to: "2018-01-01"}
`), 0o600))

	var out bytes.Buffer
	err := checkFixture(&out, path)
	require.ErrorIs(t, err, errInvalidFixture)
	assert.Contains(t, out.String(), "multiple_open_expressions")
	assert.Contains(t, out.String(), "inverted_interval")
}

func TestCheckFixture_DanglingReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dangling.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
expressions: [{id: E, work_id: MISSING, valid_from: "2020-01-01"}]
`), 0o600))

	err := checkFixture(&bytes.Buffer{}, path)
	assert.ErrorIs(t, err, errInvalidFixture)
}

func TestFixturesCheckCmd(t *testing.T) {
	out, err := runCmd(t, "fixtures", "check", repoFixture)
	require.NoError(t, err)
	assert.Contains(t, out, "violations=0")
}
