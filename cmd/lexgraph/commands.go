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
	"io"
	"log/slog"

	"github.com/AleutianAI/AleutianLex/pkg/logging"
	"github.com/AleutianAI/AleutianLex/services/orchestrator"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/config"
	"github.com/spf13/cobra"
)

const serviceName = "lexgraph"

// app holds state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logging.Logger

	// quietLogs keeps stderr free for protocol hosts.
	quietLogs bool

	// newService builds the service; tests replace it.
	newService func(ctx context.Context, cfg *config.Config) (orchestrator.Service, error)
}

func newRootCmd() *cobra.Command {
	return (&app{
		newService: func(ctx context.Context, cfg *config.Config) (orchestrator.Service, error) {
			return orchestrator.New(ctx, cfg)
		},
	}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Date-correct, citation-grounded answers over EU regulatory text",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"path to the YAML config (default: "+config.DefaultPath+" if present)")

	root.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newResolveCmd(a),
		newFixturesCmd(a),
		newMCPCmd(a),
	)
	return root
}

// load reads the configuration and installs the process logger.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.Logging.Logger(serviceName)
	lc.Quiet = a.quietLogs
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger.Slog())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
