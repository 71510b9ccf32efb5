// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lexgraph answers questions about EU regulatory text with
// date-correct, cited evidence.
//
// # Usage
//
//	lexgraph serve                          # HTTP API on :12210
//	lexgraph ask "What must a MiCA white paper contain?" --as-of 2025-01-01
//	lexgraph resolve --as-of 2017-06-01 --work EU-PSD2
//	lexgraph fixtures check fixtures/arena.yaml
//	lexgraph mcp                            # MCP tools over stdio
//
// Every command accepts --config; see package config for the sources
// and environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
