// Package tools exposes Galaxy operations as MCP tools.
//
// Every tool resolves its Galaxy client per call: when the request carries
// OAuth credentials (placed in the context by oauth.ValidateToken) a client
// for that user's API key is built, otherwise the shared galaxy.Session is
// used. The tools are thin passthroughs to the Galaxy API.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	oauth "github.com/galaxyproject/galaxy-mcp"
	"github.com/galaxyproject/galaxy-mcp/galaxy"
	"github.com/galaxyproject/galaxy-mcp/instrumentation"
)

// ServerName is the MCP server name announced to clients.
const ServerName = "galaxy"

// Deps are the collaborators shared by every tool handler.
type Deps struct {
	// Session is the shared connection used when a call carries no OAuth credentials.
	Session *galaxy.Session

	// DefaultURL and DefaultAPIKey are used by connect when its arguments are omitted.
	DefaultURL    string
	DefaultAPIKey string

	// ClientOptions apply to the per-request clients built from OAuth credentials.
	ClientOptions []galaxy.Option

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Tools holds the tool handlers.
type Tools struct {
	deps Deps
}

// New creates the tool handlers. A nil Session gets a fresh one.
func New(deps Deps) *Tools {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Session == nil {
		deps.Session = galaxy.NewSession(deps.Logger, deps.ClientOptions...)
	}
	return &Tools{deps: deps}
}

// NewServer creates an MCP server with every Galaxy tool registered.
func NewServer(version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	New(deps).Register(s)
	return s
}

// Register adds every tool to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("connect",
		mcp.WithDescription("Connect to a Galaxy server. Falls back to GALAXY_URL and GALAXY_API_KEY when arguments are omitted."),
		mcp.WithString("url", mcp.Description("Galaxy server URL, e.g. https://usegalaxy.org")),
		mcp.WithString("api_key", mcp.Description("Galaxy API key")),
	), t.instrument("connect", t.handleConnect))

	s.AddTool(mcp.NewTool("get_user",
		mcp.WithDescription("Get the current Galaxy user"),
	), t.instrument("get_user", t.handleGetUser))

	s.AddTool(mcp.NewTool("get_server_info",
		mcp.WithDescription("Get Galaxy server information including version, URL and configuration details"),
	), t.instrument("get_server_info", t.handleGetServerInfo))

	s.AddTool(mcp.NewTool("get_histories",
		mcp.WithDescription("Get a paginated list of the user's histories"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of histories to return (default: all)")),
		mcp.WithNumber("offset", mcp.Description("Number of histories to skip (default: 0)")),
		mcp.WithString("name", mcp.Description("Only return histories with this name")),
	), t.instrument("get_histories", t.handleGetHistories))

	s.AddTool(mcp.NewTool("list_history_ids",
		mcp.WithDescription("List history ids and names for easy reference"),
	), t.instrument("list_history_ids", t.handleListHistoryIDs))

	s.AddTool(mcp.NewTool("get_history_details",
		mcp.WithDescription("Get history metadata and a count of its contents. Does not return the datasets."),
		mcp.WithString("history_id",
			mcp.Required(),
			mcp.Description("Galaxy history id, a hexadecimal string such as 1cd8e2f6b131e5aa"),
		),
	), t.instrument("get_history_details", t.handleGetHistoryDetails))

	s.AddTool(mcp.NewTool("create_history",
		mcp.WithDescription("Create a new Galaxy history"),
		mcp.WithString("history_name",
			mcp.Required(),
			mcp.Description("Name for the new history, e.g. 'RNA-seq Analysis'"),
		),
	), t.instrument("create_history", t.handleCreateHistory))
}

// instrument records a tool call metric for every invocation.
func (t *Tools) instrument(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := next(ctx, req)
		success := err == nil && result != nil && !result.IsError
		t.deps.Metrics.RecordToolCall(ctx, name, success)
		if !success {
			t.deps.Logger.Debug("Tool call failed", "tool", name)
		}
		return result, err
	}
}

// clientFor returns the Galaxy client for a call.
func (t *Tools) clientFor(ctx context.Context) (*galaxy.Client, error) {
	if creds, ok := oauth.CredentialsFromContext(ctx); ok {
		return galaxy.NewClient(creds.GalaxyURL, creds.APIKey, t.deps.ClientOptions...), nil
	}
	return t.deps.Session.Client()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult formats a failed Galaxy call, adding a hint for common statuses.
func errorResult(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s failed: %v", action, err)
	switch galaxy.StatusCode(err) {
	case http.StatusUnauthorized:
		msg += " (Authentication failed - check your API key)"
	case http.StatusForbidden:
		msg += " (Permission denied - check your account permissions)"
	case http.StatusNotFound:
		msg += " (Resource not found - check IDs and URLs)"
	case http.StatusInternalServerError:
		msg += " (Server error - try again later or contact admin)"
	}
	return mcp.NewToolResultError(msg)
}
