// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianLex/services/orchestrator/datatypes"
	"gopkg.in/yaml.v3"
)

// Arena is the decoded entity set.
type Arena struct {
	Works          []datatypes.Work
	Expressions    []datatypes.Expression
	Manifestations []datatypes.Manifestation
	Articles       []datatypes.Article
	Paragraphs     []datatypes.Paragraph
}

// fixtureFile is the YAML layout. Dates are YYYY-MM-DD strings and a
// missing valid_to means open-ended.
//
//	works:
//	  - {id: EU-MICA, title: Markets in Crypto-Assets, jurisdiction: EU, authority_level: 3}
//	expressions:
//	  - {id: EU-MICA-2024, work_id: EU-MICA, valid_from: "2024-06-30"}
//	articles:
//	  - {id: EU-MICA-2024-A1, expression_id: EU-MICA-2024, number: "1"}
//	paragraphs:
//	  - {id: EU-MICA-1-1, article_id: EU-MICA-2024-A1, number: 1, text: "...", embedding: [0.1, 0.2]}
type fixtureFile struct {
	Works          []datatypes.Work          `yaml:"works"`
	Expressions    []fixtureExpression       `yaml:"expressions"`
	Manifestations []datatypes.Manifestation `yaml:"manifestations"`
	Articles       []datatypes.Article       `yaml:"articles"`
	Paragraphs     []fixtureParagraph        `yaml:"paragraphs"`
}

type fixtureExpression struct {
	ID        string `yaml:"id"`
	WorkID    string `yaml:"work_id"`
	ValidFrom string `yaml:"valid_from"`
	ValidTo   string `yaml:"valid_to"`
	Language  string `yaml:"language"`
}

type fixtureParagraph struct {
	ID        string    `yaml:"id"`
	ArticleID string    `yaml:"article_id"`
	Number    int       `yaml:"number"`
	Text      string    `yaml:"text"`
	Embedding []float32 `yaml:"embedding"`
}

// ParseArena decodes a YAML fixture.
func ParseArena(data []byte) (*Arena, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	a := &Arena{
		Works:          f.Works,
		Manifestations: f.Manifestations,
		Articles:       f.Articles,
	}
	for _, fe := range f.Expressions {
		from, err := datatypes.ParseDate(fe.ValidFrom)
		if err != nil {
			return nil, fmt.Errorf("expression %s valid_from: %w", fe.ID, err)
		}
		e := datatypes.Expression{ID: fe.ID, WorkID: fe.WorkID, ValidFrom: from, Language: fe.Language}
		if fe.ValidTo != "" {
			to, err := datatypes.ParseDate(fe.ValidTo)
			if err != nil {
				return nil, fmt.Errorf("expression %s valid_to: %w", fe.ID, err)
			}
			e.ValidTo = &to
		}
		a.Expressions = append(a.Expressions, e)
	}
	for _, fp := range f.Paragraphs {
		a.Paragraphs = append(a.Paragraphs, datatypes.Paragraph{
			ID:        fp.ID,
			ArticleID: fp.ArticleID,
			Number:    fp.Number,
			Text:      fp.Text,
			Embedding: fp.Embedding,
		})
	}
	return a, nil
}

// LoadArenaFile reads and decodes a fixture file.
func LoadArenaFile(path string) (*Arena, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseArena(data)
}

// EmbedFunc computes an embedding for paragraph text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EmbedMissing fills in embeddings for paragraphs that have none. Used
// when fixtures are written without vectors and an embedder is available.
func (a *Arena) EmbedMissing(ctx context.Context, embed EmbedFunc) (int, error) {
	n := 0
	for i := range a.Paragraphs {
		if len(a.Paragraphs[i].Embedding) > 0 {
			continue
		}
		vec, err := embed(ctx, a.Paragraphs[i].Text)
		if err != nil {
			return n, fmt.Errorf("embed paragraph %s: %w", a.Paragraphs[i].ID, err)
		}
		a.Paragraphs[i].Embedding = vec
		n++
	}
	return n, nil
}

// Open loads a fixture file, optionally embeds paragraphs without vectors,
// and builds the Store.
func Open(ctx context.Context, path string, embed EmbedFunc) (*Store, error) {
	arena, err := LoadArenaFile(path)
	if err != nil {
		return nil, err
	}
	if embed != nil {
		if _, err := arena.EmbedMissing(ctx, embed); err != nil {
			return nil, err
		}
	}
	return New(arena)
}
