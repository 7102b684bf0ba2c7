package service

import (
	"fmt"

	"github.com/louisbranch/qbo-mcp/internal/services/mcp/domain"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mcpRegistrationKind int

const (
	mcpRegistrationKindTools mcpRegistrationKind = iota
	mcpRegistrationKindResources
)

type mcpRegistrationModule struct {
	name     string
	kind     mcpRegistrationKind
	register func(mcpRegistrationTarget) error
}

const (
	mcpEntityToolsModuleName     = "entity-tools"
	mcpLookupToolsModuleName     = "lookup-tools"
	mcpHealthToolsModuleName     = "health-tools"
	mcpHealthResourcesModuleName = "health-resources"
)

type mcpServerRegistrationAdapter struct {
	server *mcp.Server
}

func (r mcpServerRegistrationAdapter) AddTool(tool *mcp.Tool, handler any) error {
	return addMCPTool(r.server, tool, handler)
}

func (r mcpServerRegistrationAdapter) AddResource(resource *mcp.Resource, handler mcp.ResourceHandler) {
	r.server.AddResource(resource, handler)
}

type mcpToolRegistrar struct {
	matches func(any) bool
	add     func(*mcp.Server, *mcp.Tool, any)
}

func newMCPToolRegistrar[I any, O any]() mcpToolRegistrar {
	return mcpToolRegistrar{
		matches: func(handler any) bool {
			_, ok := handler.(mcp.ToolHandlerFor[I, O])
			return ok
		},
		add: func(server *mcp.Server, tool *mcp.Tool, handler any) {
			mcp.AddTool(server, tool, handler.(mcp.ToolHandlerFor[I, O]))
		},
	}
}

var mcpToolRegistrars = []mcpToolRegistrar{
	newMCPToolRegistrar[domain.CreateInput, any](),
	newMCPToolRegistrar[domain.GetInput, any](),
	newMCPToolRegistrar[domain.UpdateInput, any](),
	newMCPToolRegistrar[domain.DeleteInput, any](),
	newMCPToolRegistrar[domain.SearchInput, any](),
	newMCPToolRegistrar[domain.ListAccountsInput, any](),
	newMCPToolRegistrar[domain.ResolveVendorInput, any](),
	newMCPToolRegistrar[domain.ListTaxCodesInput, any](),
	newMCPToolRegistrar[domain.AttachReceiptInput, any](),
	newMCPToolRegistrar[domain.HealthCheckInput, any](),
}

func addMCPTool(server *mcp.Server, tool *mcp.Tool, handler any) error {
	for _, registrar := range mcpToolRegistrars {
		if registrar.matches(handler) {
			registrar.add(server, tool, handler)
			return nil
		}
	}
	toolName := "<nil>"
	if tool != nil {
		toolName = tool.Name
	}
	return fmt.Errorf("mcp registration adapter does not support handler type %T for tool %q", handler, toolName)
}

func newMCPRegistrationModules(ops domain.Operations) []mcpRegistrationModule {
	return []mcpRegistrationModule{
		{
			name: mcpEntityToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerEntityTools(registrar, ops, upstream.Entities())
			},
		},
		{
			name: mcpLookupToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerLookupTools(registrar, ops)
			},
		},
		{
			name: mcpHealthToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerTool(registrar, domain.HealthCheckTool(), domain.HealthCheckHandler(ops))
			},
		},
		{
			name: mcpHealthResourcesModuleName,
			kind: mcpRegistrationKindResources,
			register: func(registrar mcpRegistrationTarget) error {
				registrar.AddResource(domain.HealthResource(), domain.HealthResourceHandler(ops))
				return nil
			},
		},
	}
}
