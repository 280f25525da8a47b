// Package server implements the MCP (Model Context Protocol) server for
// spreadsheet conversion tools.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - openFile: Convert a spreadsheet and open a read session over its rows
//   - foreach: Read the next row of a session
//   - reset: Move a session back to its first row
//   - excel2Json: Convert a spreadsheet and return the whole result
//
// Sessions expire after a period without reads or resets. Reading an
// expired or unknown session returns {"error":"Session expired or invalid"}
// as the tool result rather than a JSON-RPC error.
//
// # HTTP
//
// HTTPHandler serves the same tools as POST requests carrying
// {"name": ..., "arguments": {...}}, for deployments behind an HTTP
// trigger.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The error detail
package server
