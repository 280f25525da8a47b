package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
)

// maxHTTPBody bounds the size of a tool request body.
const maxHTTPBody = 1 << 20

// HTTPHandler serves tool calls posted as {"name": ..., "arguments": ...}.
// The response body is the tool result as JSON.
func (s *Server) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		var params ToolCallParams
		body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
		if err == nil {
			err = json.Unmarshal(body, &params)
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
			return
		}

		result, err := s.executeTool(r.Context(), params.Name, params.Arguments)
		if err != nil {
			status := http.StatusInternalServerError
			var argErr *argumentError
			switch {
			case errors.As(err, &argErr):
				status = http.StatusBadRequest
			case errors.Is(err, sheetjson.ErrFetchFailed):
				status = http.StatusBadGateway
			case errors.Is(err, sheetjson.ErrUnsupportedFormat), errors.Is(err, sheetjson.ErrEmptyResult):
				status = http.StatusUnprocessableEntity
			}
			s.logger.Warn("Tool execution failed.", "tool", params.Name, "status", status, "error", err)
			writeJSON(w, status, map[string]string{"error": sheetjson.ErrorMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
