package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pearldiveja/archivefever/internal/storage"
)

const recentLibraryCount = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Runner Runner
}

// NewMCPServer creates an MCP server with the research tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"archivefever",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("archivefever discovers reference texts for research projects and keeps them in a local library."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("create_project",
			mcp.WithDescription("Create a research project with the search terms used to discover sources."),
			mcp.WithString("title", mcp.Description("Project title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithArray("search_terms", mcp.Description("Search terms, one query each"), mcp.Required(), mcp.WithStringItems()),
		),
		mcpCreateProject(deps),
	)

	s.AddTool(
		mcp.NewTool("discover_and_ingest",
			mcp.WithDescription("Run discovery for a project: search each term, score and record sources, fetch the best ones and add them to the library. Returns the run summary."),
			mcp.WithString("project_id", mcp.Description("Project id"), mcp.Required()),
		),
		mcpDiscoverAndIngest(deps),
	)

	s.AddTool(
		mcp.NewTool("list_discovered_sources",
			mcp.WithDescription("List a project's discovered sources in discovery order with scores and ingestion state."),
			mcp.WithString("project_id", mcp.Description("Project id"), mcp.Required()),
			mcp.WithString("state", mcp.Description("Optional state filter: pending, ingested, failed or insufficient")),
		),
		mcpListDiscoveredSources(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"library://recent",
			"Recent Library Texts",
			mcp.WithResourceDescription("The 10 most recently added library texts (metadata only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentLibrary(deps),
	)

	return s
}

func mcpCreateProject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		terms := req.GetStringSlice("search_terms", nil)

		p, err := newProject(title, req.GetString("description", ""), terms)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Store.SaveProject(p); err != nil {
			return mcpError(fmt.Sprintf("failed to save project: %v", err)), nil
		}
		return mcpJSON(toProjectView(p))
	}
}

func mcpDiscoverAndIngest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		summary, err := deps.Runner.DiscoverAndIngest(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		return mcpJSON(summary)
	}
}

func mcpListDiscoveredSources(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		sources, err := deps.Runner.ListDiscoveredSources(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sources failed: %v", err)), nil
		}
		if state := req.GetString("state", ""); state != "" {
			sources = filterByState(sources, storage.StateKind(state))
		}
		return mcpJSON(toSourceViews(sources))
	}
}

func mcpResourceRecentLibrary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		texts, err := deps.Store.ListLibraryTexts(recentLibraryCount, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list library texts: %w", err)
		}

		views := make([]libraryTextView, len(texts))
		for i, t := range texts {
			views[i] = toLibraryTextView(t, false)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal library texts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
