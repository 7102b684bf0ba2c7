package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HealthResourceURI names the readable health snapshot.
const HealthResourceURI = "health://status"

// ListAccountsInput represents the MCP tool input for listing accounts.
type ListAccountsInput struct {
	Kind            string `json:"kind,omitempty" jsonschema:"all (default), expense or payment"`
	Search          string `json:"search,omitempty" jsonschema:"case-insensitive match on the account name"`
	IncludeInactive bool   `json:"includeInactive,omitempty" jsonschema:"include inactive accounts"`
	Refresh         bool   `json:"refresh,omitempty" jsonschema:"bypass the cached chart of accounts"`
}

// ResolveVendorInput represents the MCP tool input for resolving a vendor.
type ResolveVendorInput struct {
	ID   string `json:"id,omitempty" jsonschema:"vendor id; wins over name"`
	Name string `json:"name,omitempty" jsonschema:"vendor display name or a fragment of it"`
}

// ListTaxCodesInput represents the MCP tool input for listing tax codes.
type ListTaxCodesInput struct {
	Search          string `json:"search,omitempty" jsonschema:"case-insensitive match on the tax code name or description"`
	IncludeInactive bool   `json:"includeInactive,omitempty" jsonschema:"include inactive tax codes"`
}

// AttachReceiptInput represents the MCP tool input for attaching receipts.
type AttachReceiptInput struct {
	EntityID   string   `json:"entityId" jsonschema:"id of the transaction to attach to"`
	EntityType string   `json:"entityType,omitempty" jsonschema:"entity type of the transaction; Purchase when empty"`
	FilePaths  []string `json:"filePaths" jsonschema:"local paths of jpeg, png, gif, tiff or pdf files"`
}

// HealthCheckInput represents the MCP tool input for the health check.
type HealthCheckInput struct{}

// ListAccountsTool defines the MCP tool schema for listing accounts.
func ListAccountsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_accounts",
		Description: "Lists chart of accounts entries, optionally only expense categories or payment accounts",
	}
}

// ResolveVendorTool defines the MCP tool schema for resolving a vendor.
func ResolveVendorTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "resolve_vendor",
		Description: "Finds exactly one active vendor by id or name; reports ambiguous names with candidates",
	}
}

// ListTaxCodesTool defines the MCP tool schema for listing tax codes.
func ListTaxCodesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_tax_codes",
		Description: "Lists sales tax codes sorted by name",
	}
}

// AttachReceiptTool defines the MCP tool schema for attaching receipts.
func AttachReceiptTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "attach_receipt",
		Description: "Uploads local receipt files and attaches them to a transaction, an expense (Purchase) by default",
	}
}

// HealthCheckTool defines the MCP tool schema for the health check.
func HealthCheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "health_check",
		Description: "Reports circuit breaker state and QBO authentication status",
	}
}

// ListAccountsHandler lists accounts.
func ListAccountsHandler(ops Operations) mcp.ToolHandlerFor[ListAccountsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListAccountsInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.ListAccounts(ctx, operation.AccountFilter{
			Kind:            input.Kind,
			Search:          input.Search,
			IncludeInactive: input.IncludeInactive,
			Refresh:         input.Refresh,
		}))
	}
}

// ResolveVendorHandler resolves a vendor.
func ResolveVendorHandler(ops Operations) mcp.ToolHandlerFor[ResolveVendorInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ResolveVendorInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.ResolveVendor(ctx, operation.VendorQuery{ID: input.ID, Name: input.Name}))
	}
}

// ListTaxCodesHandler lists tax codes.
func ListTaxCodesHandler(ops Operations) mcp.ToolHandlerFor[ListTaxCodesInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListTaxCodesInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.ListTaxCodes(ctx, operation.TaxCodeFilter{
			Search:          input.Search,
			IncludeInactive: input.IncludeInactive,
		}))
	}
}

// AttachReceiptHandler uploads receipts.
func AttachReceiptHandler(ops Operations) mcp.ToolHandlerFor[AttachReceiptInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AttachReceiptInput) (*mcp.CallToolResult, any, error) {
		ctx = invocation(ctx, req)
		return envelopeResult(ops.AttachReceipts(ctx, operation.AttachRequest{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			FilePaths:  input.FilePaths,
		}))
	}
}

// HealthCheckHandler reports health. It never reaches QBO.
func HealthCheckHandler(ops Operations) mcp.ToolHandlerFor[HealthCheckInput, any] {
	return func(context.Context, *mcp.CallToolRequest, HealthCheckInput) (*mcp.CallToolResult, any, error) {
		return envelopeResult(operation.Success(ops.Health()))
	}
}

// HealthResource defines the readable health snapshot.
func HealthResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "health_status",
		Title:       "Health Status",
		Description: "Circuit breaker state and QBO authentication status",
		MIMEType:    "application/json",
		URI:         HealthResourceURI,
	}
}

// HealthResourceHandler returns the health snapshot as JSON.
func HealthResourceHandler(ops Operations) mcp.ResourceHandler {
	return func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if ops == nil {
			return nil, fmt.Errorf("operations are not configured")
		}
		uri := HealthResourceURI
		if req != nil && req.Params != nil && req.Params.URI != "" {
			uri = req.Params.URI
		}
		if uri != HealthResourceURI {
			return nil, mcp.ResourceNotFoundError(uri)
		}

		data, err := json.MarshalIndent(ops.Health(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal health: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/json",
					Text:     string(data),
				},
			},
		}, nil
	}
}
