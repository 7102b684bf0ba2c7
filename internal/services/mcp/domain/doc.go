// Package domain translates MCP tool calls into QuickBooks Online operations.
//
// Entity tools are generated from the upstream entity registry, so adding an
// entity there adds its create, get, update, delete and search tools here.
// Read-only entities get only get and search.
// Every tool answers with a result envelope; a failed QBO call is a tool
// result with isError set, never a protocol error.
package domain
