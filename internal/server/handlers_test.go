package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func callTool(t *testing.T, s *Server, name, args string) *MCPResponse {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	req := &MCPRequest{JSONRPC: "2.0", ID: 7, Method: "tools/call", Params: params}
	return s.handleToolsCall(context.Background(), req)
}

func resultText(t *testing.T, resp *MCPResponse) string {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	content := resp.Result.(map[string]interface{})["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("content = %v", content)
	}
	return content[0]["text"].(string)
}

func TestSessionTools(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, "dev", nil)

	steps := []struct {
		tool     string
		args     string
		expected string
	}{
		{"openFile", `{"url":"book.xlsx","type":"row-object","offset":1}`, `{"sessionId":"s-1"}`},
		{"foreach", `{"sessionId":"s-1"}`, `{"header":{"A1":"Fruit"},"row":{"index":2,"A1":{"type":"file","value":"https://files.example.com/a.png"}}}`},
		{"foreach", `{"sessionId":"s-1"}`, `{}`},
		{"reset", `{"sessionId":"s-1"}`, "Success: Session reset to 0"},
		{"foreach", `{"sessionId":"s-1"}`, `{"header":{"A1":"Fruit"},"row":{"index":1,"A1":{"type":"text","value":"apple"}}}`},
		{"foreach", `{"sessionId":"gone"}`, `{"error":"Session expired or invalid"}`},
		{"reset", `{"sessionId":"gone"}`, "Error: Session expired or invalid"},
	}

	for i, step := range steps {
		got := resultText(t, callTool(t, s, step.tool, step.args))
		if got != step.expected {
			t.Errorf("step %d %s = %s, expected %s", i, step.tool, got, step.expected)
		}
	}

	if len(api.opened) != 1 || api.opened[0] != "book.xlsx:row-object:1" {
		t.Errorf("opened = %v", api.opened)
	}
}

func TestOpenFileDefaults(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, "dev", nil)
	resultText(t, callTool(t, s, "openFile", `{"url":"book.xlsx"}`))
	if api.opened[0] != "book.xlsx::0" {
		t.Errorf("opened = %v, expected the default mode and offset", api.opened)
	}
}

func TestExcel2JSON(t *testing.T) {
	s := New(&fakeAPI{}, "dev", nil)

	got := resultText(t, callTool(t, s, "excel2Json", `{"excelFileURL":"book.xlsx","type":"row-object"}`))
	if !strings.HasPrefix(got, `{"mode":"row-object","header":{"A1":"Fruit"},"data":[{"index":1,`) {
		t.Errorf("excel2Json = %s", got)
	}

	if got := resultText(t, callTool(t, s, "excel2Json", `{"excelFileURL":""}`)); got != `{}` {
		t.Errorf("excel2Json without a file = %s, expected {}", got)
	}
}

func TestToolErrors(t *testing.T) {
	s := New(&fakeAPI{}, "dev", nil)

	tests := []struct {
		name     string
		tool     string
		args     string
		wantCode int
		wantData string
	}{
		{"unknown tool", "dance", `{}`, -32602, "unknown tool: dance"},
		{"malformed arguments", "openFile", `{"url":5}`, -32602, ""},
		{"missing url", "openFile", `{}`, -32602, "url is required"},
		{"fetch failure", "openFile", `{"url":"nope.xlsx"}`, -32000, "fetch failed: file not found: nope.xlsx"},
		{"empty workbook", "openFile", `{"url":"empty.xlsx"}`, -32000, "Failed to parse Excel file or file is empty."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			if resp.Error == nil {
				t.Fatalf("expected error response, got %+v", resp.Result)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %d, expected %d", resp.Error.Code, tt.wantCode)
			}
			if tt.wantData != "" && resp.Error.Data != tt.wantData {
				t.Errorf("data = %v, expected %q", resp.Error.Data, tt.wantData)
			}
		})
	}

	resp := s.handleToolsCall(context.Background(), &MCPRequest{ID: 1, Params: json.RawMessage(`[1]`)})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("invalid params response = %+v", resp)
	}
}

func TestHTTPHandler(t *testing.T) {
	h := New(&fakeAPI{}, "dev", nil).HTTPHandler()

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"open", http.MethodPost, `{"name":"openFile","arguments":{"url":"book.xlsx"}}`, http.StatusOK, `{"sessionId":"s-1"}`},
		{"session error is a result", http.MethodPost, `{"name":"foreach","arguments":{"sessionId":"x"}}`, http.StatusOK, `{"error":"Session expired or invalid"}`},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed, `{"error":"method not allowed"}`},
		{"bad body", http.MethodPost, `{`, http.StatusBadRequest, ""},
		{"unknown tool", http.MethodPost, `{"name":"dance"}`, http.StatusBadRequest, `{"error":"unknown tool: dance"}`},
		{"fetch failure", http.MethodPost, `{"name":"excel2Json","arguments":{"excelFileURL":"nope.xlsx"}}`, http.StatusBadGateway, ""},
		{"unsupported", http.MethodPost, `{"name":"excel2Json","arguments":{"excelFileURL":"data.csv"}}`, http.StatusUnprocessableEntity, ""},
		{"empty", http.MethodPost, `{"name":"openFile","arguments":{"url":"empty.xlsx"}}`, http.StatusUnprocessableEntity, `{"error":"Failed to parse Excel file or file is empty."}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, expected %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if tt.wantBody != "" && strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, expected %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}
