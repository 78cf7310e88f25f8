// Package mcpservice holds the building blocks of one MCP session's
// capability set: a Server describing what the session offers, typed tools
// built with NewTool, prompt and resource containers, and a SessionLogger
// that forwards log lines to the connected client.
//
// A Server is assembled once, when a session is bound, and is not mutated
// afterwards:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//
//	echo := mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	    mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
//	)
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithTools(mcpservice.NewToolsContainer(echo)),
//	)
//
// Errors returned by a tool handler become CallToolResult values with
// isError set; JSON-RPC errors are reserved for protocol problems.
package mcpservice
