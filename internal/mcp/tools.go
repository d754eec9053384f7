// Copyright 2026 The Bowline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bowlinehq/bowline/internal/identity"
)

// Row limits applied to run_query.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// ListDataSourcesTool exposes the organization's data source catalog.
type ListDataSourcesTool struct {
	sources DataSourceRepository
}

// NewListDataSourcesTool creates the list_data_sources tool.
func NewListDataSourcesTool(sources DataSourceRepository) *ListDataSourcesTool {
	return &ListDataSourcesTool{sources: sources}
}

func (t *ListDataSourcesTool) Name() string { return "list_data_sources" }

func (t *ListDataSourcesTool) Description() string {
	return "List the data sources connected to the organization, with their IDs, types, and descriptions."
}

func (t *ListDataSourcesTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

type dataSourceSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SourceType  string `json:"source_type"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

type dataSourceListing struct {
	DataSources []dataSourceSummary `json:"data_sources"`
}

func (t *ListDataSourcesTool) Execute(ctx context.Context, args map[string]any, user *identity.User, org *identity.Organization) (any, error) {
	sources, err := t.sources.ListByOrganization(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	listing := dataSourceListing{DataSources: make([]dataSourceSummary, 0, len(sources))}
	for _, ds := range sources {
		status := "active"
		if !ds.IsActive {
			status = "inactive"
		}
		listing.DataSources = append(listing.DataSources, dataSourceSummary{
			ID:          ds.ID,
			Name:        ds.Name,
			SourceType:  ds.SourceType,
			Description: ds.Description,
			Status:      status,
		})
	}
	return listing, nil
}

// RunQueryTool executes read-only SQL against a registered data source.
type RunQueryTool struct {
	sources  DataSourceRepository
	executor QueryExecutor
}

// NewRunQueryTool creates the run_query tool.
func NewRunQueryTool(sources DataSourceRepository, executor QueryExecutor) *RunQueryTool {
	return &RunQueryTool{sources: sources, executor: executor}
}

func (t *RunQueryTool) Name() string { return "run_query" }

func (t *RunQueryTool) Description() string {
	return "Run a read-only SQL query against a connected data source and return the resulting rows."
}

func (t *RunQueryTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"data_source_id": map[string]any{
				"type":        "string",
				"description": "ID of the data source to query (see list_data_sources).",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "SQL to execute. The connection is read-only; writes are rejected.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum rows to return (default %d, max %d).", DefaultQueryLimit, MaxQueryLimit),
			},
		},
		"required": []string{"data_source_id", "query"},
	}
}

func (t *RunQueryTool) Execute(ctx context.Context, args map[string]any, user *identity.User, org *identity.Organization) (any, error) {
	sourceID, err := stringArg(args, "data_source_id")
	if err != nil {
		return nil, err
	}
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", DefaultQueryLimit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	ds, err := t.sources.GetByID(ctx, org.ID, sourceID)
	if err != nil {
		return nil, err
	}
	if !ds.IsActive {
		return nil, ErrDataSourceInactive
	}

	result, err := t.executor.Execute(ctx, ds, query, limit)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AnswerQuestionTool matches a natural-language question against the data
// source catalog and points the caller at the most relevant source. Name
// matches weigh heavier than description matches.
type AnswerQuestionTool struct {
	sources DataSourceRepository
}

// NewAnswerQuestionTool creates the answer_question tool.
func NewAnswerQuestionTool(sources DataSourceRepository) *AnswerQuestionTool {
	return &AnswerQuestionTool{sources: sources}
}

func (t *AnswerQuestionTool) Name() string { return "answer_question" }

func (t *AnswerQuestionTool) Description() string {
	return "Answer a question about the organization's data by identifying which connected data sources are relevant."
}

func (t *AnswerQuestionTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "Natural-language question about the organization's data.",
			},
		},
		"required": []string{"question"},
	}
}

type sourceMatch struct {
	DataSourceID string `json:"data_source_id"`
	Name         string `json:"name"`
	SourceType   string `json:"source_type"`
	Score        int    `json:"score"`
}

type questionAnswer struct {
	Question string        `json:"question"`
	Answer   string        `json:"answer"`
	Matches  []sourceMatch `json:"matches"`
}

func (t *AnswerQuestionTool) Execute(ctx context.Context, args map[string]any, user *identity.User, org *identity.Organization) (any, error) {
	question, err := stringArg(args, "question")
	if err != nil {
		return nil, err
	}

	sources, err := t.sources.ListByOrganization(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	out := questionAnswer{
		Question: question,
		Matches:  []sourceMatch{},
	}
	if len(sources) == 0 {
		out.Answer = "No data sources are connected for this organization. Connect a data source before asking questions."
		return out, nil
	}

	terms := tokenize(question)
	for _, ds := range sources {
		score := scoreSource(ds, terms)
		if score > 0 {
			out.Matches = append(out.Matches, sourceMatch{
				DataSourceID: ds.ID,
				Name:         ds.Name,
				SourceType:   ds.SourceType,
				Score:        score,
			})
		}
	}
	// Stable sort keeps catalog order (oldest first) among equal scores.
	sort.SliceStable(out.Matches, func(i, j int) bool {
		return out.Matches[i].Score > out.Matches[j].Score
	})

	if len(out.Matches) == 0 {
		names := make([]string, 0, len(sources))
		for _, ds := range sources {
			names = append(names, ds.Name)
		}
		out.Answer = fmt.Sprintf("No connected data source matched the question. Available sources: %s.", strings.Join(names, ", "))
		return out, nil
	}

	best := out.Matches[0]
	out.Answer = fmt.Sprintf("%q looks most relevant to this question. Call run_query with data_source_id %q to inspect the underlying data.", best.Name, best.DataSourceID)
	return out, nil
}

func scoreSource(ds *DataSource, terms []string) int {
	name := strings.ToLower(ds.Name)
	desc := strings.ToLower(ds.Description)
	score := 0
	for _, term := range terms {
		if strings.Contains(name, term) {
			score += 2
		}
		if strings.Contains(desc, term) {
			score++
		}
	}
	return score
}

// stopWords are question scaffolding skipped during matching.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "when": {}, "where": {},
	"many": {}, "much": {}, "do": {}, "does": {}, "did": {}, "can": {},
	"in": {}, "on": {}, "of": {}, "for": {}, "to": {}, "from": {}, "by": {},
	"and": {}, "or": {}, "we": {}, "our": {}, "my": {}, "me": {}, "us": {},
	"with": {}, "about": {}, "show": {}, "tell": {}, "have": {}, "has": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopWords[f]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// stringArg extracts a required non-empty string argument.
func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	return s, nil
}

// intArg extracts an optional integer argument. JSON numbers decode as
// float64, so both forms are accepted.
func intArg(args map[string]any, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %s must be a number", key)
	}
}
