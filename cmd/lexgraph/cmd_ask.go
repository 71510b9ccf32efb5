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
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// newAskCmd runs the answer pipeline once. A FAILED answer is printed and
// also returned as the command error so the exit status is non-zero.
func newAskCmd(a *app) *cobra.Command {
	var req datatypes.AnswerRequest
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			req.Question = strings.Join(args, " ")

			svc, err := a.newService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.Answer().Answer(cmd.Context(), req)
			if resp != nil {
				if werr := writeJSON(cmd.OutOrStdout(), resp); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.AsOf, "as-of", "", `date the answer must hold on: YYYY-MM-DD or "current"`)
	cmd.Flags().IntVar(&req.TopK, "top-k", datatypes.DefaultTopK, "number of evidence paragraphs")
	cmd.Flags().StringVar(&req.Jurisdiction, "jurisdiction", "", "restrict to works of this jurisdiction")
	cmd.Flags().StringSliceVar(&req.WorkIDs, "work", nil, "restrict to these work ids (repeatable)")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	var req datatypes.ScopeRequest
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the expressions in force on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			svc, err := a.newService(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.Actions().ResolveScope(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&req.AsOf, "as-of", "", "resolution date (default: today)")
	cmd.Flags().StringVar(&req.Jurisdiction, "jurisdiction", "", "restrict to works of this jurisdiction")
	cmd.Flags().StringSliceVar(&req.WorkIDs, "work", nil, "restrict to these work ids (repeatable)")
	return cmd
}
