package mcp

import (
	"html/template"
	"net/http"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>noteai-server</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #0d1117; color: #c9d1d9; margin: 0; }
  .container { max-width: 720px; margin: 48px auto; padding: 0 24px; }
  h1 { color: #f0f6fc; margin-bottom: 4px; }
  .subtitle { color: #8b949e; margin-top: 0; }
  .section { margin-top: 32px; }
  .section-title { font-weight: 600; color: #f0f6fc; margin-bottom: 8px; }
  pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px; overflow-x: auto; }
  .endpoint { color: #58a6ff; font-family: monospace; }
  .tool { font-family: monospace; color: #7ee787; }
  .status { display: inline-block; width: 8px; height: 8px; border-radius: 50%; background: #3fb950; margin-right: 8px; }
  li { margin-bottom: 6px; }
</style>
</head>
<body>
<div class="container">
  <h1>noteai-server</h1>
  <p class="subtitle">Document ingestion, grounded chat and study note review over the Model Context Protocol. Version {{.Version}}.</p>

  <div class="section">
    <div class="section-title">Add to an MCP client</div>
    <pre><code>streamable-http {{.MCPPath}}</code></pre>
  </div>

  <div class="section">
    <div class="section-title">Endpoints</div>
    <p><span class="status"></span><a href="{{.MCPPath}}" class="endpoint">{{.MCPPath}}</a> &mdash; MCP Streamable HTTP</p>
    <p><span class="status"></span><a href="/health" class="endpoint">/health</a> &mdash; Health check</p>
  </div>

  <div class="section">
    <div class="section-title">Tools</div>
    <ul>
    {{range .Tools}}<li><span class="tool">{{.Name}}</span> {{.Description}}</li>
    {{end}}</ul>
  </div>
</div>
</body>
</html>`))

type landingData struct {
	Version string
	MCPPath string
	Tools   []landingTool
}

type landingTool struct {
	Name        string
	Description string
}

// NewLandingHandler returns an HTTP handler that serves the landing page at
// /, listing the tools registered on server.
func NewLandingHandler(server *Server, version, mcpPath string) http.HandlerFunc {
	data := landingData{Version: version, MCPPath: mcpPath}
	for _, tool := range server.Tools() {
		data.Tools = append(data.Tools, landingTool{Name: tool.Name, Description: tool.Description})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := landingTemplate.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
