// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bakes refusal_policy.yaml into the compiled binary so the default
guardrail policy travels with the executable.
*/

package enforcement

import (
	_ "embed"
)

// RefusalPolicy holds the raw byte content of 'refusal_policy.yaml'.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.RefusalPolicy, &targetStruct)
//
//go:embed refusal_policy.yaml
var RefusalPolicy []byte
