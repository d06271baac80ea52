// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the memory index to LLM agents over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/search"
	"github.com/starford/mnemo/internal/service"
)

const sourceFormatURI = "mnemo://source-format"

// Server wraps the MCP server with mnemo tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"mnemo",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_code",
		mcp.WithDescription("Keyword search over indexed files, functions or observations across all projects."),
		mcp.WithString("query", mcp.Description("Search terms. May be empty only for observations.")),
		mcp.WithString("type", mcp.Description("Result kind"), mcp.Enum("files", "functions", "observations")),
		mcp.WithString("project", mcp.Description("Restrict to one project id")),
		mcp.WithString("category", mcp.Description("Observation category filter")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	), s.searchCode)

	s.mcp.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Find files in a project whose meaning is closest to a natural-language query."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.semanticSearch)

	s.mcp.AddTool(mcp.NewTool("find_similar",
		mcp.WithDescription("List files semantically similar to a given file."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the project root")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.findSimilar)

	s.mcp.AddTool(mcp.NewTool("check_freshness",
		mcp.WithDescription("Report whether a project's indexes lag its source tree and which sync is recommended. "+
			"Set sync=true to run the recommended sync."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithBoolean("sync", mcp.Description("Apply the recommendation")),
	), s.checkFreshness)

	s.mcp.AddTool(mcp.NewTool("record_observation",
		mcp.WithDescription("Record a note learned while working. The category is inferred when omitted."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Observation text")),
		mcp.WithString("project", mcp.Description("Project id; empty records a global observation")),
		mcp.WithString("session", mcp.Description("Session id")),
		mcp.WithString("category", mcp.Description("Category"),
			mcp.Enum("decision", "pattern", "bugfix", "gotcha", "feature", "implementation")),
		mcp.WithArray("files", mcp.Description("Related file paths"), mcp.WithStringItems()),
	), s.recordObservation)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List configured projects with index statistics and last sync time."),
	), s.listProjects)

	s.mcp.AddResource(
		mcp.NewResource(sourceFormatURI, "Source Document Format",
			mcp.WithResourceDescription("Layout of the per-project JSON document the index is built from."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSourceFormat,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports domain failures to the agent instead of failing the
// JSON-RPC call.
func toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, context.Canceled):
		return nil, err
	case errors.Is(err, apperr.ErrProvider):
		return mcp.NewToolResultError("embedding provider unavailable: " + err.Error()), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func (s *Server) searchCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := search.ParseKind(req.GetString("type", ""))
	if err != nil {
		return toolError(err)
	}
	resp, err := s.svc.Search(ctx, search.Request{
		Query:     req.GetString("query", ""),
		Kind:      kind,
		ProjectID: req.GetString("project", ""),
		Category:  models.Category(req.GetString("category", "")),
		Limit:     req.GetInt("limit", 0),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(resp)
}

func (s *Server) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Semantic(ctx, project, query, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(hits)
}

func (s *Server) findSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Similar(ctx, project, path, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(hits)
}

func (s *Server) checkFreshness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !req.GetBool("sync", false) {
		snap, err := s.svc.Freshness(ctx, project)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(snap)
	}
	snap, rep, err := s.svc.Refresh(ctx, project)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"freshness": snap, "sync": rep})
}

func (s *Server) recordObservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	o, err := s.svc.Observe(ctx, service.ObserveInput{
		ProjectID: req.GetString("project", ""),
		SessionID: req.GetString("session", ""),
		Category:  req.GetString("category", ""),
		Text:      text,
		Files:     req.GetStringSlice("files", nil),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(o)
}

func (s *Server) listProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.svc.Projects(ctx)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(projects)
}

func (s *Server) readSourceFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      sourceFormatURI,
			MIMEType: "text/markdown",
			Text:     SourceFormatContract,
		},
	}, nil
}
