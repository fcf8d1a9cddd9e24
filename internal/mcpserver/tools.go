// Package mcpserver registers MCP tools that expose the notification
// inbox. It adapts the state store and the relay engine to the MCP SDK's
// tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/alexjbarnes/notify-relay/internal/errors"
	"github.com/alexjbarnes/notify-relay/internal/models"
	"github.com/alexjbarnes/notify-relay/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultMessageLimit = 50

// Inbox is the read side of the message store.
type Inbox interface {
	Categories() ([]models.Category, error)
	Messages(f state.MessageFilter) ([]models.Message, error)
	Search(query string, maxResults int) (*state.SearchResult, error)
}

// Reconciler applies local reads and pushes them to the peer.
type Reconciler interface {
	MarkRead(ctx context.Context, ids []string) error
	PushPending(ctx context.Context) (int, error)
	Connected() bool
}

// RegisterTools adds all inbox tools to the given MCP server.
func RegisterTools(server *mcp.Server, inbox Inbox, rec Reconciler) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "inbox_categories",
		Description: "List notification categories with their sub-categories, unread and total counts, and the most recent icon path. Use this as the first call to see what is in the inbox.",
	}, categoriesHandler(inbox))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inbox_messages",
		Description: "List stored notifications, newest last. Filter by category id, sub-category id, or unread only. Defaults to the 50 most recent.",
	}, messagesHandler(inbox))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inbox_search",
		Description: "Case-insensitive search across notification titles and bodies. Title matches come first, newest first within each group. Returns snippets with the match in bold.",
	}, searchHandler(inbox))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inbox_mark_read",
		Description: "Mark notifications as read locally. The read state is pushed to the connected phone in the background.",
	}, markReadHandler(rec))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inbox_sync",
		Description: "Push every pending local read to the phone now and report how many ids were sent. Waits briefly for a phone connection.",
	}, syncHandler(rec))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// CategoriesInput has no parameters.
type CategoriesInput struct{}

// MessagesInput holds parameters for inbox_messages.
type MessagesInput struct {
	Category      string `json:"category,omitempty" jsonschema:"category id to filter by"`
	SubCategoryID string `json:"sub_category_id,omitempty" jsonschema:"sub-category id to filter by, as returned by inbox_categories"`
	UnreadOnly    bool   `json:"unread_only,omitempty" jsonschema:"only return unread notifications"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum number of notifications, defaults to 50"`
}

// SearchInput holds parameters for inbox_search.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"required,search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, defaults to 20"`
}

// MarkReadInput holds parameters for inbox_mark_read.
type MarkReadInput struct {
	IDs []string `json:"ids" jsonschema:"required,notification ids to mark read"`
}

// SyncInput has no parameters.
type SyncInput struct{}

// --- Output types ---

type CategoriesResult struct {
	TotalUnread int               `json:"total_unread"`
	Categories  []models.Category `json:"categories"`
}

type MessagesResult struct {
	Count    int              `json:"count"`
	Messages []models.Message `json:"messages"`
}

type MarkReadResult struct {
	Requested int  `json:"requested"`
	Connected bool `json:"connected"`
}

type SyncResult struct {
	Pushed    int    `json:"pushed"`
	Abandoned bool   `json:"abandoned"`
	Reason    string `json:"reason,omitempty"`
}

// --- Handlers ---

func categoriesHandler(inbox Inbox) mcp.ToolHandlerFor[CategoriesInput, *CategoriesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ CategoriesInput) (*mcp.CallToolResult, *CategoriesResult, error) {
		cats, err := inbox.Categories()
		if err != nil {
			return nil, nil, fmt.Errorf("loading categories: %w", err)
		}

		result := &CategoriesResult{Categories: cats}
		for _, c := range cats {
			result.TotalUnread += c.Unread
		}

		if result.Categories == nil {
			result.Categories = []models.Category{}
		}

		return textResult(result), result, nil
	}
}

func messagesHandler(inbox Inbox) mcp.ToolHandlerFor[MessagesInput, *MessagesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input MessagesInput) (*mcp.CallToolResult, *MessagesResult, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultMessageLimit
		}

		msgs, err := inbox.Messages(state.MessageFilter{
			CategoryID:    input.Category,
			SubCategoryID: input.SubCategoryID,
			UnreadOnly:    input.UnreadOnly,
			Limit:         limit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("loading messages: %w", err)
		}

		if msgs == nil {
			msgs = []models.Message{}
		}

		result := &MessagesResult{Count: len(msgs), Messages: msgs}

		return textResult(result), result, nil
	}
}

func searchHandler(inbox Inbox) mcp.ToolHandlerFor[SearchInput, *state.SearchResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, *state.SearchResult, error) {
		result, err := inbox.Search(input.Query, input.MaxResults)
		if err != nil {
			return nil, nil, err
		}
		return textResult(result), result, nil
	}
}

func markReadHandler(rec Reconciler) mcp.ToolHandlerFor[MarkReadInput, *MarkReadResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MarkReadInput) (*mcp.CallToolResult, *MarkReadResult, error) {
		if len(input.IDs) == 0 {
			return nil, nil, errors.New("ids must not be empty")
		}

		if err := rec.MarkRead(ctx, input.IDs); err != nil {
			return nil, nil, err
		}

		result := &MarkReadResult{Requested: len(input.IDs), Connected: rec.Connected()}

		return textResult(result), result, nil
	}
}

func syncHandler(rec Reconciler) mcp.ToolHandlerFor[SyncInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncResult, error) {
		n, err := rec.PushPending(ctx)

		result := &SyncResult{Pushed: n}

		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrPushAbandoned):
			result.Abandoned = true
			result.Reason = err.Error()
		default:
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
