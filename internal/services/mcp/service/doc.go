// Package service wires MCP transport to the QBO tool handlers.
//
// It knows how to run the MCP server over stdio or streamable HTTP and how to
// report health; what each tool means lives in the domain package.
package service
