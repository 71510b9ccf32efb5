// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
)

//go:embed prompts.md
var defaultPrompts string

// PromptTemplates holds the named templates used by the answer pipeline.
type PromptTemplates struct {
	AnswerSystem   string
	AnswerUser     string
	ClassifySystem string
	ClassifyUser   string
}

// DefaultPrompts parses the embedded prompts.md.
func DefaultPrompts() (*PromptTemplates, error) {
	return ParsePrompts(defaultPrompts, "embedded prompts.md")
}

// LoadPrompts parses a prompts file. Expected format: ## template_name
// followed by a fenced code block.
func LoadPrompts(path string) (*PromptTemplates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	return ParsePrompts(string(data), path)
}

// ParsePrompts extracts the required sections from markdown content.
func ParsePrompts(content, source string) (*PromptTemplates, error) {
	sections := parsePromptSections(content)

	get := func(name string) (string, error) {
		v, ok := sections[name]
		if !ok || v == "" {
			return "", fmt.Errorf("prompt section %q not found in %s", name, source)
		}
		return v, nil
	}

	var err error
	pt := &PromptTemplates{}
	if pt.AnswerSystem, err = get("answer_system"); err != nil {
		return nil, err
	}
	if pt.AnswerUser, err = get("answer_user"); err != nil {
		return nil, err
	}
	if pt.ClassifySystem, err = get("classify_system"); err != nil {
		return nil, err
	}
	if pt.ClassifyUser, err = get("classify_user"); err != nil {
		return nil, err
	}
	return pt, nil
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^## (.+)$`)

// parsePromptSections extracts named sections from a markdown file.
// Each section is a ## heading followed by a fenced code block.
func parsePromptSections(content string) map[string]string {
	sections := make(map[string]string)

	matches := sectionHeaderRe.FindAllStringSubmatchIndex(content, -1)
	for i, match := range matches {
		name := strings.TrimSpace(content[match[2]:match[3]])

		start := match[1]
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[name] = extractCodeBlock(content[start:end])
	}
	return sections
}

// extractCodeBlock extracts the content of the first fenced code block.
func extractCodeBlock(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				break
			}
			inBlock = true
			continue
		}
		if inBlock {
			result = append(result, line)
		}
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

// RenderTemplate replaces {{key}} placeholders in a template string.
// Values are substituted in a single pass, so placeholder-like text inside a
// value is left alone.
func RenderTemplate(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
