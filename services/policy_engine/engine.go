// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine is the refusal guardrail.
//
// The engine checks a question before any retrieval or generation cost is
// incurred (PreCheck) and a validated draft before it is returned
// (PostCheck). The policy is loaded once and never mutated, so a single
// engine is shared by all requests.
package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLex/services/policy_engine/enforcement"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

var guardTracer = otel.Tracer("aleutian.lex.guardrail")

// PolicyEngine serves as the main entry point for guardrail checks.
type PolicyEngine struct {
	Classifiers []Classification
	DraftRules  []Classification

	topics      []Pattern
	outOfDomain OutOfDomainRule
	minFaith    float64

	classifier Classifier
	scorer     FaithfulnessScorer
}

// Option configures a PolicyEngine.
type Option func(*PolicyEngine)

// WithClassifier adds a model-backed classifier consulted after the rules
// allow a question.
func WithClassifier(c Classifier) Option {
	return func(e *PolicyEngine) { e.classifier = c }
}

// WithFaithfulnessScorer replaces the lexical overlap scorer.
func WithFaithfulnessScorer(s FaithfulnessScorer) Option {
	return func(e *PolicyEngine) { e.scorer = s }
}

// WithMinFaithfulness overrides the policy threshold. 0 disables scoring.
func WithMinFaithfulness(v float64) Option {
	return func(e *PolicyEngine) { e.minFaith = v }
}

// NewPolicyEngine loads the policy embedded in the binary.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine(opts ...Option) (*PolicyEngine, error) {
	return newEngine(enforcement.RefusalPolicy, "embedded policy", opts...)
}

// NewPolicyEngineFromFile loads a policy file instead of the embedded one.
// The file is read once.
func NewPolicyEngineFromFile(path string, opts ...Option) (*PolicyEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return newEngine(data, path, opts...)
}

func newEngine(data []byte, source string, opts ...Option) (*PolicyEngine, error) {
	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", source, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", source, err)
	}
	if err := policy.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}
	policy.SortByPriority()

	engine := &PolicyEngine{
		Classifiers: policy.Classifications,
		DraftRules:  policy.DraftRules,
		topics:      policy.AllowedTopics,
		outOfDomain: policy.OutOfDomain,
		minFaith:    policy.Faithfulness.MinScore,
		scorer:      LexicalOverlapScorer{},
	}
	if engine.outOfDomain.Name == "" {
		engine.outOfDomain.Name = ClassOutOfDomain
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

var nonAlnumRE = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize folds text to the form policy regexes are written against:
// NFKC, case-folded, runs of non-alphanumerics collapsed to one space.
func Normalize(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.TrimSpace(nonAlnumRE.ReplaceAllString(folded, " "))
}

// ClassifyData returns the first classification whose patterns match the
// normalised text, with the matching rule id.
func (e *PolicyEngine) ClassifyData(text string) (Classification, string, bool) {
	return firstMatch(e.Classifiers, Normalize(text))
}

func firstMatch(classes []Classification, normalized string) (Classification, string, bool) {
	for _, c := range classes {
		for _, p := range c.Patterns {
			if p.compiledPattern.MatchString(normalized) {
				return c, p.Id, true
			}
		}
	}
	return Classification{}, "", false
}

// InDomain reports whether normalised text mentions an allowed topic.
// With no topics configured every question is in domain.
func (e *PolicyEngine) InDomain(normalized string) bool {
	if len(e.topics) == 0 {
		return true
	}
	for _, t := range e.topics {
		if t.compiledPattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

// PreCheck classifies a question before retrieval.
//
// # Description
//
// Rule classifications run first, highest priority wins. A question that
// matches none of them and names no allowed topic is out of domain. Only
// when the rules allow is the optional model classifier consulted. A
// classifier error is returned so the caller can decide whether to fail
// open or closed.
func (e *PolicyEngine) PreCheck(ctx context.Context, question string) (Decision, error) {
	ctx, span := guardTracer.Start(ctx, "guardrail.PreCheck")
	defer span.End()

	normalized := Normalize(question)
	if c, ruleID, ok := firstMatch(e.Classifiers, normalized); ok {
		d := Decision{Category: c.Category, Classification: c.Name, RuleID: ruleID}
		e.logRefusal(ctx, "pre", d)
		span.SetAttributes(attribute.String("classification", c.Name))
		return d, nil
	}
	if !e.InDomain(normalized) {
		d := Decision{Category: e.outOfDomain.Category, Classification: e.outOfDomain.Name, RuleID: "NO_ALLOWED_TOPIC"}
		e.logRefusal(ctx, "pre", d)
		span.SetAttributes(attribute.String("classification", d.Classification))
		return d, nil
	}

	if e.classifier != nil {
		label, err := e.classifier.Classify(ctx, question)
		if err != nil {
			span.RecordError(err)
			return Decision{}, fmt.Errorf("model classifier: %w", err)
		}
		if d, refused := e.decideLabel(label); refused {
			e.logRefusal(ctx, "pre", d)
			span.SetAttributes(attribute.String("classification", d.Classification))
			return d, nil
		}
	}

	span.SetAttributes(attribute.String("classification", ClassInformational))
	return Allow(), nil
}

// decideLabel maps a model label to a decision using the policy's own
// classification categories.
func (e *PolicyEngine) decideLabel(label string) (Decision, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == ClassInformational {
		return Allow(), false
	}
	if label == e.outOfDomain.Name {
		return Decision{Category: e.outOfDomain.Category, Classification: label, RuleID: "MODEL"}, true
	}
	for _, c := range e.Classifiers {
		if c.Name == label {
			return Decision{Category: c.Category, Classification: label, RuleID: "MODEL"}, true
		}
	}
	// Unknown labels are not grounds for refusal.
	return Allow(), false
}

// PostCheck inspects a draft that already passed citation validation.
func (e *PolicyEngine) PostCheck(ctx context.Context, question, draft string, evidenceTexts []string) (Decision, error) {
	ctx, span := guardTracer.Start(ctx, "guardrail.PostCheck")
	defer span.End()

	if c, ruleID, ok := firstMatch(e.DraftRules, Normalize(draft)); ok {
		d := Decision{Category: c.Category, Classification: c.Name, RuleID: ruleID}
		e.logRefusal(ctx, "post", d)
		return d, nil
	}

	if e.minFaith > 0 && e.scorer != nil {
		score, err := e.scorer.Score(ctx, draft, evidenceTexts)
		if err != nil {
			span.RecordError(err)
			return Decision{}, fmt.Errorf("faithfulness scorer: %w", err)
		}
		span.SetAttributes(attribute.Float64("faithfulness", score))
		if score < e.minFaith {
			d := Decision{Category: datatypes.RefusalAnswerOutOfScope, Classification: ClassUnfaithful, RuleID: "FAITHFULNESS_BELOW_MIN"}
			slog.InfoContext(ctx, "Draft below faithfulness threshold", "score", score, "min", e.minFaith)
			e.logRefusal(ctx, "post", d)
			return d, nil
		}
	}
	return Allow(), nil
}

// ScanText reports every pattern that matches, across question and draft
// rules. Used by the CLI to explain a decision.
func (e *PolicyEngine) ScanText(content string) []ScanFinding {
	normalized := Normalize(content)
	var findings []ScanFinding
	for _, group := range [][]Classification{e.Classifiers, e.DraftRules} {
		for _, classifier := range group {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(normalized)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

func (e *PolicyEngine) logRefusal(ctx context.Context, stage string, d Decision) {
	slog.InfoContext(ctx, "Guardrail refused",
		"stage", stage,
		"classification", d.Classification,
		"rule_id", d.RuleID,
		"category", d.Category,
	)
}
