package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/qbo-mcp/internal/platform/id"
	"github.com/louisbranch/qbo-mcp/internal/platform/requestctx"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Operations is the resilience layer behind the tools. *operation.Executor
// implements it.
type Operations interface {
	Create(ctx context.Context, entity string, payload map[string]any, idempotencyKey string) operation.Envelope[map[string]any]
	Get(ctx context.Context, entity, id string) operation.Envelope[map[string]any]
	Update(ctx context.Context, entity string, payload map[string]any) operation.Envelope[map[string]any]
	Delete(ctx context.Context, entity, id, syncToken string) operation.Envelope[map[string]any]
	Search(ctx context.Context, entity string, input any) operation.Envelope[any]
	SearchFilter(ctx context.Context, entity, filter string, opts criteria.SearchOptions) operation.Envelope[any]
	ListAccounts(ctx context.Context, filter operation.AccountFilter) operation.Envelope[[]operation.Account]
	ResolveVendor(ctx context.Context, query operation.VendorQuery) operation.Envelope[*operation.Vendor]
	ListTaxCodes(ctx context.Context, filter operation.TaxCodeFilter) operation.Envelope[[]operation.TaxCode]
	AttachReceipts(ctx context.Context, req operation.AttachRequest) operation.Envelope[operation.AttachResult]
	Health() operation.Health
}

var _ Operations = (*operation.Executor)(nil)

// envelopeResult renders an envelope as both text and structured content.
// The tool result is an error exactly when the envelope is.
func envelopeResult[T any](envelope operation.Envelope[T]) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result envelope: %w", err)
	}
	return &mcp.CallToolResult{
		IsError: envelope.IsError,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, envelope, nil
}

// invocation tags ctx with a fresh invocation id and the called tool name.
func invocation(ctx context.Context, req *mcp.CallToolRequest) context.Context {
	var inv requestctx.Invocation
	if req != nil && req.Params != nil {
		inv.Tool = req.Params.Name
	}
	if generated, err := id.NewID(); err == nil {
		inv.ID = generated
	}
	return requestctx.WithInvocation(ctx, inv)
}
