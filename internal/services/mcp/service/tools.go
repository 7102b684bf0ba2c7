package service

import (
	"fmt"

	"github.com/louisbranch/qbo-mcp/internal/services/mcp/domain"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mcpRegistrationTarget interface {
	AddTool(*mcp.Tool, any) error
	AddResource(*mcp.Resource, mcp.ResourceHandler)
}

type toolRegistration struct {
	tool    *mcp.Tool
	handler any
}

// registerEntityTools adds the five CRUD and search tools for every entity.
// Read-only entities get only get and search.
func registerEntityTools(registrar mcpRegistrationTarget, ops domain.Operations, entities []upstream.Entity) error {
	for _, entity := range entities {
		registrations := []toolRegistration{
			{tool: domain.GetTool(entity), handler: domain.GetHandler(ops, entity)},
			{tool: domain.SearchTool(entity), handler: domain.SearchHandler(ops, entity)},
		}
		if !entity.ReadOnly {
			registrations = append(registrations,
				toolRegistration{tool: domain.CreateTool(entity), handler: domain.CreateHandler(ops, entity)},
				toolRegistration{tool: domain.UpdateTool(entity), handler: domain.UpdateHandler(ops, entity)},
				toolRegistration{tool: domain.DeleteTool(entity), handler: domain.DeleteHandler(ops, entity)},
			)
		}
		for _, registration := range registrations {
			if err := registerTool(registrar, registration.tool, registration.handler); err != nil {
				return fmt.Errorf("entity %s: %w", entity.Name, err)
			}
		}
	}
	return nil
}

func registerLookupTools(registrar mcpRegistrationTarget, ops domain.Operations) error {
	registrations := []toolRegistration{
		{tool: domain.ListAccountsTool(), handler: domain.ListAccountsHandler(ops)},
		{tool: domain.ResolveVendorTool(), handler: domain.ResolveVendorHandler(ops)},
		{tool: domain.ListTaxCodesTool(), handler: domain.ListTaxCodesHandler(ops)},
		{tool: domain.AttachReceiptTool(), handler: domain.AttachReceiptHandler(ops)},
	}
	for _, registration := range registrations {
		if err := registerTool(registrar, registration.tool, registration.handler); err != nil {
			return err
		}
	}
	return nil
}

func registerTool(registrar mcpRegistrationTarget, tool *mcp.Tool, handler any) error {
	if registrar == nil {
		return fmt.Errorf("mcp registration target is not configured")
	}
	return registrar.AddTool(tool, handler)
}
