// Package mcp contains the Model Context Protocol data types and constants
// used by the vault server. It mirrors the wire representation of the
// protocol while keeping the surface Go-friendly (exported structs with json
// tags, string constants for method names and enumerations).
//
// The package is free of transport logic. The streaminghttp gateway and the
// mcpservice capability layer both import these types; only the engine
// serializes them into JSON-RPC envelopes.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Annotations
//
// Tools carry ToolAnnotations (read-only, destructive, idempotent and
// open-world hints, always serialized). Content blocks may carry Annotations
// naming their audience and priority:
//
//	block := mcp.ContentBlock{
//	    Type:        mcp.ContentTypeText,
//	    Text:        "[Note Status: DRAFT] ...",
//	    Annotations: &mcp.Annotations{Audience: []mcp.Role{mcp.RoleAssistant}, Priority: 0.8},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate client-provided values and LoggingLevel.Enabled to filter.
package mcp
