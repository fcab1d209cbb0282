// Package web holds the embedded HTML front page.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type IndexData struct {
	Title   string
	Classes []string
}

// RenderIndex writes nothing to w if the template fails.
func RenderIndex(w io.Writer, data IndexData) error {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "index.html", data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
