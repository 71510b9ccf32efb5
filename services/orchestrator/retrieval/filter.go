// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
)

// ScopeFilter drops candidates whose Expression is not in the ScopedContext.
//
// # Description
//
// Stores are asked to restrict similarity search to the scoped Expressions,
// but an approximate index may still return neighbours from other versions.
// The filter is the exact check that guarantees temporal precision: no
// paragraph from an Expression outside the scope reaches the generator.
type ScopeFilter struct{}

// InScope reports whether c belongs to an Expression in scope.
func (ScopeFilter) InScope(scope datatypes.ScopedContext, c datatypes.Candidate) bool {
	sw, ok := scope.Lookup(c.ExpressionID)
	if !ok {
		return false
	}
	// A store reporting a work id must agree with the scope.
	return c.WorkID == "" || c.WorkID == sw.Work.ID
}

// Apply returns the in-scope candidates, enriched with their Work, and the
// number dropped.
func (f ScopeFilter) Apply(ctx context.Context, scope datatypes.ScopedContext, candidates []datatypes.Candidate) ([]datatypes.Evidence, int) {
	kept := make([]datatypes.Evidence, 0, len(candidates))
	dropped := 0
	for _, c := range candidates {
		if !f.InScope(scope, c) {
			dropped++
			continue
		}
		sw, _ := scope.Lookup(c.ExpressionID)
		c.WorkID = sw.Work.ID
		kept = append(kept, datatypes.Evidence{
			Candidate:      c,
			WorkTitle:      sw.Work.Title,
			AuthorityLevel: sw.Work.AuthorityLevel,
		})
	}
	if dropped > 0 {
		slog.DebugContext(ctx, "Scope filter dropped out-of-scope candidates",
			"dropped", dropped,
			"kept", len(kept),
		)
	}
	return kept, dropped
}
