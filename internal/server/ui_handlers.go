package server

import (
	"html/template"
	"log/slog"
	"net/http"
)

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>deconvolve</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
</style>
</head>
<body>
<h1>Deconvolution jobs</h1>
{{if .}}
<table>
<tr><th>ID</th><th>State</th><th>Data</th><th>Iterations</th><th>Best cost</th><th>Result</th></tr>
{{range .}}
<tr>
<td><a href="/api/v1/jobs/{{.ID}}/status">{{.ID}}</a></td>
<td>{{.State}}</td>
<td>{{.Config.DataPath}}</td>
<td>{{.Iterations}}</td>
<td>{{printf "%.6g" .BestCost}}</td>
<td><a href="/api/v1/jobs/{{.ID}}/best.png">best</a> <a href="/api/v1/jobs/{{.ID}}/residual.png">residual</a></td>
</tr>
{{end}}
</table>
{{else}}
<p>No jobs yet. POST a JSON config to /api/v1/jobs to start one.</p>
{{end}}
</body>
</html>
`))

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.jobManager.ListJobs()); err != nil {
		slog.Error("Failed to render index", "error", err)
	}
}
