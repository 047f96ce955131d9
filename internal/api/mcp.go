package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing catalog tools and resources.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	if deps.PageSize <= 0 {
		deps.PageSize = 30
	}

	s := server.NewMCPServer(
		"pokedex",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pokedex: browse the Pokémon catalog, served from a local cache when offline."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_catalog",
			mcp.WithDescription("List one page of catalog items in listing order."),
			mcp.WithNumber("offset", mcp.Description("Index of the first item (default 0)")),
			mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Page size (default %d, max %d)", deps.PageSize, maxPageSize))),
		),
		mcpListCatalog(deps),
	)

	s.AddTool(
		mcp.NewTool("get_detail",
			mcp.WithDescription("Return the description, genus and varieties of one item."),
			mcp.WithNumber("id", mcp.Description("National dex number"), mcp.Required()),
		),
		mcpGetDetail(deps),
	)

	s.AddTool(
		mcp.NewTool("cache_stats",
			mcp.WithDescription("Report how many items and details are cached locally."),
		),
		mcpCacheStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pokedex://connectivity",
			"Connectivity",
			mcp.WithResourceDescription("Whether the upstream API is currently reachable"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConnectivity(deps),
	)

	return s
}

func mcpListCatalog(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		offset := req.GetInt("offset", 0)
		limit := req.GetInt("limit", deps.PageSize)
		if offset < 0 {
			return mcpError("offset must not be negative"), nil
		}
		if limit <= 0 {
			limit = deps.PageSize
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}

		items, err := deps.Catalog.ListPage(ctx, offset, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}

		out := make([]ItemJSON, len(items))
		for i, it := range items {
			out[i] = toItemJSON(it, false)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetDetail(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}

		item, err := deps.Catalog.Lookup(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup of item %d failed: %v", id, err)), nil
		}
		d, err := deps.Details.GetDetail(ctx, item)
		if err != nil {
			return mcpError(fmt.Sprintf("detail of %s failed: %v", item.Name, err)), nil
		}

		b, err := json.Marshal(ToDetailJSON(d))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal detail: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCacheStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Cache.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading cache stats: %v", err)), nil
		}
		b, err := json.Marshal(ToStatsJSON(st))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceConnectivity(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(ConnectivityJSON{
			Connected: deps.Network.IsConnected(),
			Since:     deps.Network.Since().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal connectivity: %w", err)
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
