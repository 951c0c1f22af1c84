package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/retrieval/pipeline"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search a user's stored memories. Runs the agentic retrieval pipeline (iterative search, relevance grading, query refinement, reranking) and returns graded results. Use this to recall facts about the user relevant to the current conversation."

	rememberToolName    = "memory_remember"
	rememberDescription = "Store a fact about a user in the memory system. Near-duplicates of an existing memory become a new version of it rather than a separate entry. Use this to persist durable facts, preferences, or events worth recalling later."

	profileToolName    = "memory_profile"
	profileDescription = "Load a user's memory profile: identity-stable facts (role, preferences) and recent contextual memories, for priming a conversation."
)

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

func jsonResult[T any](output T) (*mcp.CallToolResult, T, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult("Failed to serialize results: %v", err), output, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose memories to search"`
	Query  string `json:"query" jsonschema:"what to look for"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// SearchOutput represents the structured output of a memory search.
type SearchOutput struct {
	Results          []pipeline.Candidate `json:"results"`
	CompletionReason string               `json:"completion_reason"`
	Iterations       int                  `json:"iterations"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.UserID == "" || input.Query == "" {
		return errorResult("user_id and query are required"), SearchOutput{}, nil
	}

	result, err := s.config.Engine.Retrieve(ctx, input.Query, input.UserID, store.Filters{})
	if err != nil {
		return errorResult("Memory search failed: %v", err), SearchOutput{}, nil
	}

	candidates := result.Candidates
	if input.Limit > 0 && len(candidates) > input.Limit {
		candidates = candidates[:input.Limit]
	}
	if candidates == nil {
		candidates = []pipeline.Candidate{}
	}

	return jsonResult(SearchOutput{
		Results:          candidates,
		CompletionReason: result.CompletionReason,
		Iterations:       result.Iterations,
	})
}

// RememberInput represents the input arguments for the memory_remember tool.
type RememberInput struct {
	UserID     string   `json:"user_id" jsonschema:"the user the fact is about"`
	Text       string   `json:"text" jsonschema:"the fact to store"`
	Kind       string   `json:"kind,omitempty" jsonschema:"episodic, semantic, procedural, or profile"`
	IsStatic   bool     `json:"is_static,omitempty" jsonschema:"whether the fact is identity-stable"`
	Importance float64  `json:"importance,omitempty" jsonschema:"initial importance in [0,1]"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// RememberOutput represents the structured output of storing a memory.
type RememberOutput struct {
	ID      string `json:"id"`
	RootID  string `json:"root_id"`
	Version int    `json:"version"`
	Tier    string `json:"tier"`
}

func (s *Server) handleRemember(ctx context.Context, _ *mcp.CallToolRequest, input RememberInput) (*mcp.CallToolResult, RememberOutput, error) {
	if input.UserID == "" || input.Text == "" {
		return errorResult("user_id and text are required"), RememberOutput{}, nil
	}

	rec, err := s.config.Manager.Create(ctx, lifecycle.CreateInput{
		UserID:     input.UserID,
		Text:       input.Text,
		Kind:       memory.Kind(input.Kind),
		IsStatic:   input.IsStatic,
		Importance: input.Importance,
		Tags:       input.Tags,
	})
	if err != nil {
		return errorResult("Storing memory failed: %v", err), RememberOutput{}, nil
	}

	return jsonResult(RememberOutput{
		ID:      rec.ID,
		RootID:  rec.RootID,
		Version: rec.Version,
		Tier:    string(rec.Tier),
	})
}

// ProfileInput represents the input arguments for the memory_profile tool.
type ProfileInput struct {
	UserID       string `json:"user_id" jsonschema:"the user whose profile to load"`
	StaticLimit  int    `json:"static_limit,omitempty" jsonschema:"maximum identity-stable facts"`
	DynamicLimit int    `json:"dynamic_limit,omitempty" jsonschema:"maximum contextual memories"`
}

// ProfileOutput represents the structured output of a profile load.
type ProfileOutput struct {
	Static  []string `json:"static"`
	Dynamic []string `json:"dynamic"`
}

func (s *Server) handleProfile(ctx context.Context, _ *mcp.CallToolRequest, input ProfileInput) (*mcp.CallToolResult, ProfileOutput, error) {
	if input.UserID == "" {
		return errorResult("user_id is required"), ProfileOutput{}, nil
	}

	profile, err := s.config.Profiles.Load(ctx, input.UserID, input.StaticLimit, input.DynamicLimit)
	if err != nil {
		return errorResult("Loading profile failed: %v", err), ProfileOutput{}, nil
	}

	output := ProfileOutput{Static: []string{}, Dynamic: []string{}}
	for _, rec := range profile.Static {
		output.Static = append(output.Static, rec.Text)
	}
	for _, rec := range profile.Dynamic {
		output.Dynamic = append(output.Dynamic, rec.Text)
	}
	return jsonResult(output)
}
