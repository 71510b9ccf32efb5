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
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/store/memory"
	"github.com/AleutianAI/AleutianLex/services/orchestrator/temporal"
	"github.com/spf13/cobra"
)

// errInvalidFixture is returned when a fixture breaks an invariant; the
// details are printed first.
var errInvalidFixture = errors.New("fixture has invariant violations")

func newFixturesCmd(a *app) *cobra.Command {
	fixtures := &cobra.Command{
		Use:   "fixtures",
		Short: "Inspect arena fixture files",
	}
	fixtures.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Load a fixture and report referential and validity-interval violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkFixture(cmd.OutOrStdout(), args[0])
		},
	})
	return fixtures
}

// checkFixture validates references by building a memory store, then
// checks every work's expression intervals.
func checkFixture(w io.Writer, path string) error {
	arena, err := memory.LoadArenaFile(path)
	if err != nil {
		return err
	}
	s, err := memory.New(arena)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidFixture, err)
	}

	byWork := make(map[string][]datatypes.Expression)
	for _, e := range arena.Expressions {
		byWork[e.WorkID] = append(byWork[e.WorkID], e)
	}
	workIDs := make([]string, 0, len(byWork))
	for id := range byWork {
		workIDs = append(workIDs, id)
	}
	sort.Strings(workIDs)

	violations := 0
	for _, id := range workIDs {
		err := temporal.CheckIntervals(id, byWork[id])
		if err == nil {
			continue
		}
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Fprintln(w, "VIOLATION", e)
				violations++
			}
			continue
		}
		fmt.Fprintln(w, "VIOLATION", err)
		violations++
	}

	st := s.Stats()
	fmt.Fprintf(w, "works=%d expressions=%d articles=%d paragraphs=%d embedded=%d violations=%d\n",
		st.Works, st.Expressions, st.Articles, st.Paragraphs, st.Embedded, violations)
	if violations > 0 {
		return errInvalidFixture
	}
	return nil
}
