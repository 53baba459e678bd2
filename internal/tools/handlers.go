package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/galaxyproject/galaxy-mcp/galaxy"
)

// serverConfigKeys are the Galaxy configuration values reported by get_server_info.
var serverConfigKeys = []string{
	"brand",
	"logo_url",
	"welcome_url",
	"support_url",
	"citation_url",
	"terms_url",
	"allow_user_creation",
	"allow_user_deletion",
	"enable_quotas",
	"ftp_upload_site",
	"wiki_url",
	"screencasts_url",
	"library_import_dir",
	"user_library_import_dir",
	"allow_library_path_paste",
	"enable_unique_workflow_defaults",
}

func (t *Tools) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	url, _ := args["url"].(string)
	apiKey, _ := args["api_key"].(string)
	if url == "" {
		url = t.deps.DefaultURL
	}
	if apiKey == "" {
		apiKey = t.deps.DefaultAPIKey
	}
	if url == "" || apiKey == "" {
		return mcp.NewToolResultError("Missing Galaxy URL and API key. Pass url and api_key, or set GALAXY_URL and GALAXY_API_KEY."), nil
	}

	user, err := t.deps.Session.Connect(ctx, url, apiKey)
	if err != nil {
		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		msg := fmt.Sprintf("Failed to connect to Galaxy at %s: %v", galaxy.NormalizeURL(url), cause)
		if galaxy.StatusCode(err) == 0 {
			msg += ". Check that the URL is reachable"
		} else {
			msg += ". Check that the API key is valid"
		}
		return mcp.NewToolResultError(msg), nil
	}

	return jsonResult(map[string]any{"connected": true, "user": user})
}

func (t *Tools) handleGetUser(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return errorResult("Get user", err), nil
	}
	return jsonResult(user)
}

func (t *Tools) handleGetServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	version, err := client.Version(ctx)
	if err != nil {
		return errorResult("Get server info", err), nil
	}
	cfg, err := client.Config(ctx)
	if err != nil {
		return errorResult("Get server info", err), nil
	}

	config := make(map[string]any, len(serverConfigKeys))
	for _, key := range serverConfigKeys {
		config[key] = cfg[key]
	}
	if config["brand"] == nil {
		config["brand"] = "Galaxy"
	}

	return jsonResult(map[string]any{
		"url":     client.URL(),
		"version": version,
		"config":  config,
	})
}

func (t *Tools) handleGetHistories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	q := galaxy.HistoryQuery{}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		q.Limit = int(limit)
	}
	if offset, ok := args["offset"].(float64); ok && offset > 0 {
		q.Offset = int(offset)
	}
	q.Name, _ = args["name"].(string)

	histories, err := client.Histories(ctx, q)
	if err != nil {
		return errorResult("Get histories", err), nil
	}

	if q.Limit == 0 {
		return jsonResult(map[string]any{
			"histories": histories,
			"pagination": map[string]any{
				"total_items":    len(histories),
				"returned_items": len(histories),
				"paginated":      false,
			},
		})
	}

	all, err := client.Histories(ctx, galaxy.HistoryQuery{Name: q.Name})
	if err != nil {
		return errorResult("Get histories", err), nil
	}

	return jsonResult(map[string]any{
		"histories":  histories,
		"pagination": paginate(len(all), len(histories), q.Limit, q.Offset),
	})
}

// paginate describes one page of a listing of total items.
func paginate(total, returned, limit, offset int) map[string]any {
	totalPages := 1
	if total > 0 {
		totalPages = (total-1)/limit + 1
	}
	currentPage := offset/limit + 1
	hasNext := offset+limit < total
	hasPrevious := offset > 0

	var nextOffset, previousOffset any
	if hasNext {
		nextOffset = offset + limit
	}
	if hasPrevious {
		previousOffset = max(0, offset-limit)
	}

	helper := fmt.Sprintf("Page %d of %d. ", currentPage, totalPages)
	if hasNext {
		helper += fmt.Sprintf("Use offset=%d for next page.", offset+limit)
	} else {
		helper += "This is the last page."
	}

	return map[string]any{
		"total_items":     total,
		"returned_items":  returned,
		"limit":           limit,
		"offset":          offset,
		"current_page":    currentPage,
		"total_pages":     totalPages,
		"has_next":        hasNext,
		"has_previous":    hasPrevious,
		"next_offset":     nextOffset,
		"previous_offset": previousOffset,
		"helper_text":     helper,
	}
}

func (t *Tools) handleListHistoryIDs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	histories, err := client.Histories(ctx, galaxy.HistoryQuery{})
	if err != nil {
		return errorResult("List history IDs", err), nil
	}

	ids := make([]map[string]any, 0, len(histories))
	for _, h := range histories {
		name, _ := h["name"].(string)
		if name == "" {
			name = "Unnamed"
		}
		ids = append(ids, map[string]any{"id": h["id"], "name": name})
	}
	return jsonResult(ids)
}

func (t *Tools) handleGetHistoryDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	historyID, err := request.RequireString("history_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	historyID = strings.TrimSpace(historyID)
	if historyID == "" {
		return mcp.NewToolResultError("history_id must not be empty"), nil
	}

	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	history, err := client.History(ctx, historyID)
	if err != nil {
		if galaxy.StatusCode(err) == http.StatusNotFound {
			return mcp.NewToolResultError(fmt.Sprintf(
				"History ID '%s' not found. Make sure to pass a valid history ID string.", historyID)), nil
		}
		return errorResult("Get history details", err), nil
	}
	contents, err := client.HistoryContents(ctx, historyID)
	if err != nil {
		return errorResult("Get history details", err), nil
	}

	return jsonResult(map[string]any{
		"history": history,
		"contents_summary": map[string]any{
			"total_items": len(contents),
			"note":        "Contents are not included. Use the history id with a contents tool to list datasets.",
		},
	})
}

func (t *Tools) handleCreateHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("history_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := t.clientFor(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := client.CreateHistory(ctx, name)
	if err != nil {
		return errorResult("Create history", err), nil
	}
	return jsonResult(history)
}
