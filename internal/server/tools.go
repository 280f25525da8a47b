package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var modeProperty = map[string]interface{}{
	"type":        "string",
	"description": "Reading mode: 'basic' or 'row-object'. Default 'basic'",
	"enum":        []string{"basic", "row-object"},
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "openFile",
			Description: "Open an Excel file and create a read session. Returns a sessionId.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{
						"type":        "string",
						"description": "Excel file URL or local path",
					},
					"type": modeProperty,
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "Start reading from this line offset (default 0)",
						"default":     0,
					},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "foreach",
			Description: "Read next line from the opened session. Returns header and current line content, or {} after the last line.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sessionId": map[string]interface{}{
						"type":        "string",
						"description": "Session ID returned by openFile",
					},
				},
				"required": []string{"sessionId"},
			},
		},
		{
			Name:        "reset",
			Description: "Reset the reading pointer to the beginning (0) for the given session.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sessionId": map[string]interface{}{
						"type":        "string",
						"description": "Session ID",
					},
				},
				"required": []string{"sessionId"},
			},
		},
		{
			Name:        "excel2Json",
			Description: "Convert an Excel file to JSON. Embedded pictures and attachments are replaced by links.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"excelFileURL": map[string]interface{}{
						"type":        "string",
						"description": "Excel file URL or local path",
					},
					"type": modeProperty,
				},
				"required": []string{"excelFileURL"},
			},
		},
	}
}
