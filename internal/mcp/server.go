package mcp

import (
	"context"
	"errors"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanmcp/internal/research"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/pkg/version"
)

// Server bridges AI clients (editors, agents) to the hybrid search engine
// and multi-hop researcher over the Model Context Protocol.
type Server struct {
	mcp        *sdkmcp.Server
	engine     search.SearchEngine
	researcher *research.Researcher
	logger     *slog.Logger
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query to execute"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter   string `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language string `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, typescript"`
}

// SearchResultOutput is a single ranked search hit.
type SearchResultOutput struct {
	FilePath string  `json:"file_path" jsonschema:"file path relative to project root"`
	Content  string  `json:"content" jsonschema:"matched content snippet"`
	Score    float64 `json:"score" jsonschema:"relevance score"`
	Language string  `json:"language,omitempty" jsonschema:"programming language of the file"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
}

// ResearchInput is the input schema for the research tool.
type ResearchInput struct {
	Question string `json:"question" jsonschema:"the question to research across the codebase"`
	Hops     int    `json:"hops,omitempty" jsonschema:"maximum number of expansion hops, default 2"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum results per hop, default 10"`
}

// RelationshipOutput is a single derived entity relationship.
type RelationshipOutput struct {
	From string `json:"from_entity"`
	To   string `json:"to_entity"`
	Type string `json:"type"`
}

// ResearchOutput is the output schema for the research tool.
type ResearchOutput struct {
	Chunks        []SearchResultOutput `json:"chunks"`
	Relationships []RelationshipOutput `json:"relationships"`
	HopsExecuted  int                  `json:"hops_executed"`
}

// NewServer creates a new MCP server wired to engine for search and, when
// researcher is non-nil, to researcher for multi-hop research.
func NewServer(engine search.SearchEngine, researcher *research.Researcher) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine:     engine,
		researcher: researcher,
		logger:     slog.Default(),
	}

	s.mcp = sdkmcp.NewServer(
		&sdkmcp.Implementation{
			Name:    "AmanMCP",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server instance.
func (s *Server) MCPServer() *sdkmcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.mcp, &sdkmcp.Tool{
		Name:        "search",
		Description: "Search the indexed codebase with hybrid lexical + semantic ranking.",
	}, s.handleSearch)

	if s.researcher != nil {
		sdkmcp.AddTool(s.mcp, &sdkmcp.Tool{
			Name:        "research",
			Description: "Multi-hop research: expands a question into a bounded chain of follow-up searches over code identifiers, returning chunks and the relationship graph discovered along the way.",
		}, s.handleResearch)
	}
	s.logger.Debug("mcp tools registered")
}

func (s *Server) handleSearch(ctx context.Context, _ *sdkmcp.CallToolRequest, input SearchInput) (
	*sdkmcp.CallToolResult, SearchOutput, error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := s.engine.Search(ctx, input.Query, search.SearchOptions{
		Limit:    limit,
		Filter:   input.Filter,
		Language: input.Language,
	})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	output := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		output.Results = append(output.Results, SearchResultOutput{
			FilePath: r.Chunk.FilePath,
			Content:  r.Chunk.Content,
			Score:    r.Score,
			Language: r.Chunk.Language,
		})
	}
	return nil, output, nil
}

func (s *Server) handleResearch(ctx context.Context, _ *sdkmcp.CallToolRequest, input ResearchInput) (
	*sdkmcp.CallToolResult, ResearchOutput, error,
) {
	if input.Question == "" {
		return nil, ResearchOutput{}, NewInvalidParamsError("question parameter is required")
	}

	opts := research.DefaultOptions()
	if input.Hops > 0 {
		opts.MaxHops = input.Hops
	}
	if input.Limit > 0 {
		opts.MaxResultsPerHop = input.Limit
	}

	result, err := s.researcher.Research(ctx, input.Question, opts)
	if err != nil {
		return nil, ResearchOutput{}, MapError(err)
	}

	output := ResearchOutput{
		Chunks:        make([]SearchResultOutput, 0, len(result.Chunks)),
		Relationships: make([]RelationshipOutput, 0, len(result.Relationships)),
		HopsExecuted:  result.HopsExecuted,
	}
	for _, c := range result.Chunks {
		output.Chunks = append(output.Chunks, SearchResultOutput{
			FilePath: c.FilePath,
			Content:  c.Content,
			Language: c.Language,
		})
	}
	for _, rel := range result.Relationships {
		output.Relationships = append(output.Relationships, RelationshipOutput{
			From: rel.FromEntity, To: rel.ToEntity, Type: rel.Type,
		})
	}
	return nil, output, nil
}
