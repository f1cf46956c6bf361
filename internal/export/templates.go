package export

import (
	"html/template"
	"time"
)

var rosterTemplate = template.Must(template.New("roster").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(rosterHTML))

const rosterHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>GuardiaSwap Roster</title>
<style>
  body { font-family: Georgia, serif; color: #1a1a1a; margin: 0; }
  h1 { font-size: 22pt; margin-bottom: 2pt; }
  .meta { color: #666; font-size: 9pt; margin-bottom: 18pt; }
  h2 { font-size: 13pt; border-bottom: 1px solid #ccc; padding-bottom: 3pt; margin-top: 16pt; }
  table { width: 100%; border-collapse: collapse; font-size: 10pt; }
  th { text-align: left; color: #666; font-weight: normal; padding: 3pt 8pt 3pt 0; }
  td { padding: 3pt 8pt 3pt 0; border-top: 1px solid #eee; }
  .empty { color: #999; font-style: italic; margin-top: 24pt; }
</style>
</head>
<body>
<h1>GuardiaSwap Roster</h1>
<div class="meta">{{.Total}} shift(s), generated {{formatDate .GeneratedAt "2006-01-02 15:04 MST"}}</div>
{{if .Days}}
{{range .Days}}
<h2>{{.Date}}</h2>
<table>
  <tr><th>Assignee</th><th>Type</th><th>Notes</th><th>Registered</th></tr>
  {{range .Shifts}}
  <tr>
    <td>{{.Assignee}}</td>
    <td>{{.ShiftType}}</td>
    <td>{{.Notes}}</td>
    <td>{{formatDate .CreatedAt "2006-01-02 15:04"}}</td>
  </tr>
  {{end}}
</table>
{{end}}
{{else}}
<p class="empty">No shifts scheduled.</p>
{{end}}
</body>
</html>`
