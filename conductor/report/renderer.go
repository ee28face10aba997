// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package report

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"time"
)

const resultTemplate = `<h3>{{ .Time }}</h3>
{{- range .Projects }}
<h3>Project: {{ .Name }}</h3>
{{- with .Quotas }}
<h3>Quota Usage</h3>
{{- with .Backups }}
<h4>Backups: Limit: {{ .Limit }}, In Use: {{ .InUse }}, Reserved: {{ .Reserved }}, Usage: {{ percent .Usage }}</h4>
{{- end }}
{{- with .BackupGigabytes }}
<h4>Gigabytes: Limit: {{ .Limit }}, In Use: {{ .InUse }}, Reserved: {{ .Reserved }}, Usage: {{ percent .Usage }}</h4>
{{- end }}
{{- end }}
<h3>Success List</h3>
<h4>{{ range $i, $s := .Succeeded }}{{ if $i }}<br>{{ end }}Volume ID: {{ $s.VolumeID }}, Backup ID: {{ $s.BackupID }}{{ end }}</h4>
<h3>Failed List</h3>
<h4>{{ range $i, $f := .Failed }}{{ if $i }}<br>{{ end }}Volume ID: {{ $f.VolumeID }}, Reason: {{ $f.Reason }}{{ end }}</h4>
{{- end }}
`

var resultHTML = htmltemplate.Must(htmltemplate.New("result").Funcs(htmltemplate.FuncMap{
	"percent": func(ratio float64) string {
		return fmt.Sprintf("%.1f%%", ratio*100)
	},
}).Parse(resultTemplate))

// Render renders the HTML body of a result report.
func Render(result *Result) (string, error) {
	data := struct {
		Time     string
		Projects []*Project
	}{
		Time:     result.Time.UTC().Format(time.RFC3339),
		Projects: result.Projects(),
	}

	var buf bytes.Buffer
	if err := resultHTML.Execute(&buf, data); err != nil {
		return "", Error.Wrap(err)
	}
	return buf.String(), nil
}
