package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "openFile", "foreach").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// sessionError is the tool result for unknown or expired sessions.
var sessionError = map[string]string{"error": "Session expired or invalid"}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		var argErr *argumentError
		if errors.As(err, &argErr) {
			return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
		}
		s.logger.Warn("Tool execution failed.", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", sheetjson.ErrorMessage(err))
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": toolText(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "openFile":
		return s.handleOpenFile(ctx, args)
	case "foreach":
		return s.handleForeach(args)
	case "reset":
		return s.handleReset(args)
	case "excel2Json":
		return s.handleExcel2JSON(ctx, args)
	default:
		return nil, &argumentError{fmt.Sprintf("unknown tool: %s", name)}
	}
}

// argumentError marks malformed tool arguments.
type argumentError struct {
	msg string
}

func (e *argumentError) Error() string { return e.msg }

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &argumentError{fmt.Sprintf("invalid arguments: %v", err)}
	}
	return nil
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// toolText renders a tool result as the text of a content item. Strings
// are passed through, everything else is JSON.
func toolText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

type openFileArgs struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Offset *int   `json:"offset"`
}

func (s *Server) handleOpenFile(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a openFileArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.URL) == "" {
		return nil, &argumentError{"url is required"}
	}
	offset := 0
	if a.Offset != nil {
		offset = *a.Offset
	}
	id, err := s.api.Open(ctx, a.URL, a.Type, offset)
	if err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": id}, nil
}

type sessionArgs struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleForeach(args json.RawMessage) (interface{}, error) {
	var a sessionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	page, err := s.api.Read(a.SessionID)
	if errors.Is(err, sheetjson.ErrSessionNotFound) {
		return sessionError, nil
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *Server) handleReset(args json.RawMessage) (interface{}, error) {
	var a sessionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	msg, err := s.api.Reset(a.SessionID)
	if errors.Is(err, sheetjson.ErrSessionNotFound) {
		return "Error: Session expired or invalid", nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

type excel2JSONArgs struct {
	ExcelFileURL string `json:"excelFileURL"`
	Type         string `json:"type"`
}

func (s *Server) handleExcel2JSON(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a excel2JSONArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.ExcelFileURL) == "" {
		return map[string]interface{}{}, nil
	}
	return s.api.Convert(ctx, a.ExcelFileURL, a.Type)
}
