// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Classification labels produced by the guardrail. Only the mapped
// RefusalCategory is ever shown to callers.
const (
	ClassInformational = "informational"
	ClassManipulation  = "manipulation"
	ClassAdvisory      = "advisory"
	ClassOutOfDomain   = "out_of_domain"
	ClassUnfaithful    = "unfaithful"
)

// PolicyFile is the on-disk shape of a refusal policy.
type PolicyFile struct {
	Version         int              `yaml:"version"`
	Classifications []Classification `yaml:"classifications"`
	AllowedTopics   []Pattern        `yaml:"allowed_topics"`
	OutOfDomain     OutOfDomainRule  `yaml:"out_of_domain"`
	DraftRules      []Classification `yaml:"draft_rules"`
	Faithfulness    FaithfulnessRule `yaml:"faithfulness"`
}

type Classification struct {
	Name             string                    `yaml:"name"`
	Description      string                    `yaml:"description"`
	Category         datatypes.RefusalCategory `yaml:"category"`
	Priority         int                       `yaml:"priority"`
	Patterns         []Pattern                 `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp          `yaml:"-"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

// OutOfDomainRule names the classification used when no allowed topic
// matches. An empty allowed_topics list disables it.
type OutOfDomainRule struct {
	Name     string                    `yaml:"name"`
	Category datatypes.RefusalCategory `yaml:"category"`
}

type FaithfulnessRule struct {
	MinScore float64 `yaml:"min_score"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low, "":
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

// Validate checks fields the engine depends on.
func (p *PolicyFile) Validate() error {
	for _, group := range [][]Classification{p.Classifications, p.DraftRules} {
		for _, c := range group {
			if c.Name == "" {
				return fmt.Errorf("classification without a name")
			}
			if c.Category == "" {
				return fmt.Errorf("classification %q has no category", c.Name)
			}
		}
	}
	if len(p.AllowedTopics) > 0 && p.OutOfDomain.Category == "" {
		return fmt.Errorf("allowed_topics set but out_of_domain has no category")
	}
	if p.Faithfulness.MinScore < 0 || p.Faithfulness.MinScore > 1 {
		return fmt.Errorf("faithfulness.min_score %v outside [0,1]", p.Faithfulness.MinScore)
	}
	return nil
}

func (p *PolicyFile) CompileRegexes() error {
	for _, group := range []*[]Classification{&p.Classifications, &p.DraftRules} {
		for i := range *group {
			c := &(*group)[i]
			for j := range c.Patterns {
				pattern := &c.Patterns[j]
				re, err := regexp.Compile(pattern.Regex)
				if err != nil {
					return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
				}
				c.CompiledPatterns = append(c.CompiledPatterns, re)
				pattern.compiledPattern = re
			}
		}
	}
	for i := range p.AllowedTopics {
		re, err := regexp.Compile(p.AllowedTopics[i].Regex)
		if err != nil {
			return fmt.Errorf("failed to compile the topic regex %s: %w", p.AllowedTopics[i].Regex, err)
		}
		p.AllowedTopics[i].compiledPattern = re
	}
	return nil
}

func (p *PolicyFile) SortByPriority() {
	for _, group := range [][]Classification{p.Classifications, p.DraftRules} {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Priority > group[j].Priority
		})
	}
}

// Decision is the guardrail verdict.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Category is the only field exposed to callers.
	Category datatypes.RefusalCategory `json:"category,omitempty"`

	// Classification and RuleID are internal and logged only.
	Classification string `json:"-"`
	RuleID         string `json:"-"`
}

// Allow is the passing decision.
func Allow() Decision {
	return Decision{Allowed: true, Classification: ClassInformational}
}

type ScanFinding struct {
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
