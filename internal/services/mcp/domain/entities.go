package domain

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CreateInput represents the MCP tool input for creating an entity.
type CreateInput struct {
	Payload        map[string]any `json:"payload" jsonschema:"entity fields in QBO JSON shape"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty" jsonschema:"replaying the same key returns the first result instead of creating a duplicate"`
}

// GetInput represents the MCP tool input for reading an entity.
type GetInput struct {
	ID string `json:"id" jsonschema:"QBO entity id"`
}

// UpdateInput represents the MCP tool input for updating an entity.
type UpdateInput struct {
	Payload map[string]any `json:"payload" jsonschema:"fields to change; must include Id and SyncToken. Updates are sparse unless sparse is false"`
}

// DeleteInput represents the MCP tool input for deleting an entity.
type DeleteInput struct {
	ID        string `json:"id" jsonschema:"QBO entity id"`
	SyncToken string `json:"syncToken,omitempty" jsonschema:"current sync token; read from QBO when omitted"`
}

// SearchInput represents the MCP tool input for searching an entity.
//
// Criteria accepts an equality map, a clause array or an options object and
// excludes the top-level option fields. Filter is an AIP-160 expression
// combined with the option fields.
type SearchInput struct {
	Criteria any    `json:"criteria,omitempty" jsonschema:"equality map, array of {field, value, operator} clauses, or an object with filters/asc/desc/limit/offset/count/fetchAll; cannot be combined with the top-level asc/desc/limit/offset/count/fetchAll fields"`
	Filter   string `json:"filter,omitempty" jsonschema:"AIP-160 filter such as DisplayName = \"Acme\" AND Balance > 0; cannot be combined with criteria"`
	Asc      string `json:"asc,omitempty" jsonschema:"field to sort ascending"`
	Desc     string `json:"desc,omitempty" jsonschema:"field to sort descending"`
	Limit    *int   `json:"limit,omitempty" jsonschema:"maximum number of rows"`
	Offset   *int   `json:"offset,omitempty" jsonschema:"zero-based number of rows to skip"`
	Count    bool   `json:"count,omitempty" jsonschema:"return the number of matches instead of rows"`
	FetchAll bool   `json:"fetchAll,omitempty" jsonschema:"page through every match"`
}

func (in SearchInput) options() criteria.SearchOptions {
	return criteria.SearchOptions{
		Asc:      in.Asc,
		Desc:     in.Desc,
		Limit:    in.Limit,
		Offset:   in.Offset,
		Count:    in.Count,
		FetchAll: in.FetchAll,
	}
}

func (in SearchInput) hasOptions() bool {
	return in.Asc != "" || in.Desc != "" || in.Limit != nil || in.Offset != nil || in.Count || in.FetchAll
}

// CreateTool defines the create tool for entity.
func CreateTool(entity upstream.Entity) *mcp.Tool {
	return &mcp.Tool{
		Name:        "create_" + entity.Stem,
		Description: fmt.Sprintf("Creates a %s in QuickBooks Online. Pass an idempotencyKey to make retries safe.", entity.Name),
	}
}

// GetTool defines the read tool for entity.
func GetTool(entity upstream.Entity) *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_" + entity.Stem,
		Description: fmt.Sprintf("Reads a %s by id", entity.Name),
	}
}

// UpdateTool defines the update tool for entity.
func UpdateTool(entity upstream.Entity) *mcp.Tool {
	return &mcp.Tool{
		Name:        "update_" + entity.Stem,
		Description: fmt.Sprintf("Updates a %s. The payload must carry Id and SyncToken.", entity.Name),
	}
}

// DeleteTool defines the delete tool for entity. Name-list entities are
// deactivated rather than removed.
func DeleteTool(entity upstream.Entity) *mcp.Tool {
	description := fmt.Sprintf("Deletes a %s", entity.Name)
	if entity.SoftDelete {
		description = fmt.Sprintf("Deactivates a %s (QBO keeps inactive records)", entity.Name)
	}
	return &mcp.Tool{
		Name:        "delete_" + entity.Stem,
		Description: description,
	}
}

// SearchTool defines the search tool for entity.
func SearchTool(entity upstream.Entity) *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_" + entity.PluralStem,
		Description: fmt.Sprintf("Searches %s records by criteria or filter expression, optionally counting matches", entity.Name),
	}
}

// CreateHandler creates entity records.
func CreateHandler(ops Operations, entity upstream.Entity) mcp.ToolHandlerFor[CreateInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.Create(ctx, entity.Name, input.Payload, input.IdempotencyKey))
	}
}

// GetHandler reads entity records.
func GetHandler(ops Operations, entity upstream.Entity) mcp.ToolHandlerFor[GetInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.Get(ctx, entity.Name, input.ID))
	}
}

// UpdateHandler updates entity records.
func UpdateHandler(ops Operations, entity upstream.Entity) mcp.ToolHandlerFor[UpdateInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input UpdateInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.Update(ctx, entity.Name, input.Payload))
	}
}

// DeleteHandler deletes or deactivates entity records.
func DeleteHandler(ops Operations, entity upstream.Entity) mcp.ToolHandlerFor[DeleteInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.Delete(ctx, entity.Name, input.ID, input.SyncToken))
	}
}

// SearchHandler searches entity records.
func SearchHandler(ops Operations, entity upstream.Entity) mcp.ToolHandlerFor[SearchInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		if input.Filter != "" {
			if input.Criteria != nil {
				return envelopeResult(operation.Failure[any](apperrors.New(apperrors.CodeValidation, "criteria and filter cannot be combined")))
			}
			return envelopeResult(ops.SearchFilter(ctx, entity.Name, input.Filter, input.options()))
		}
		if input.hasOptions() {
			if input.Criteria != nil {
				return envelopeResult(operation.Failure[any](apperrors.New(apperrors.CodeValidation,
					"criteria cannot be combined with top-level search options; put them inside the criteria object")))
			}
			return envelopeResult(ops.Search(ctx, entity.Name, input.options()))
		}
		return envelopeResult(ops.Search(ctx, entity.Name, input.Criteria))
	}
}
