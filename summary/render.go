package summary

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Output formats.
const (
	FormatText  = "text"
	FormatHTML  = "html"
	FormatTable = "table"
	FormatJSON  = "json"
)

// timeLayout is the universal sortable form used in report footers.
const timeLayout = "2006-01-02 15:04:05Z"

// Digest is the ranked view of one site over a window.
type Digest struct {
	Site   string        `json:"site"`
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Blocks []BlockDigest `json:"blocks"`
}

// BlockDigest holds one block's ranked stories.
type BlockDigest struct {
	Name    string        `json:"name"`
	Stories []RankedStory `json:"stories"`
}

// Render writes d in the named format. An empty format is text.
func Render(w io.Writer, d *Digest, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return RenderText(w, d)
	case FormatHTML:
		return RenderHTML(w, d)
	case FormatTable:
		return RenderTable(w, d)
	case FormatJSON:
		return RenderJSON(w, d)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// RenderText writes the console form:
//
//	site from start until end:
//	  block:
//	    url title (score, sum/count)
func RenderText(w io.Writer, d *Digest) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s from %s until %s:\n", d.Site, formatTime(d.Start), formatTime(d.End))
	for _, block := range d.Blocks {
		fmt.Fprintf(&b, "  %s:\n", block.Name)
		for _, s := range block.Stories {
			fmt.Fprintf(&b, "    %s %s (%v, %d/%d)\n", s.URL, s.Title, s.Score, s.Sum, s.Count)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderTable writes one table per block.
func RenderTable(w io.Writer, d *Digest) error {
	if _, err := fmt.Fprintf(w, "%s from %s until %s\n", d.Site, formatTime(d.Start), formatTime(d.End)); err != nil {
		return err
	}
	for _, block := range d.Blocks {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle(block.Name)
		tw.AppendHeader(table.Row{"#", "Score", "Seen", "Title", "URL"})
		for i, s := range block.Stories {
			tw.AppendRow(table.Row{i + 1, fmt.Sprintf("%.3f", s.Score), fmt.Sprintf("%d/%d", s.Sum, s.Count), s.Title, s.URL})
		}
		tw.Render()
	}
	return nil
}

// RenderJSON writes d as indented JSON.
func RenderJSON(w io.Writer, d *Digest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// RenderHTML writes a standalone bootstrap page.
func RenderHTML(w io.Writer, d *Digest) error {
	return pageTemplate.Execute(w, d)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

var pageTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"date":      func(t time.Time) string { return t.UTC().Format("2006-01-02") },
	"timestamp": formatTime,
	// Comments are dropped from template text, so the score comment is
	// built from numbers only and passed through as markup.
	"scoreComment": func(s RankedStory) template.HTML {
		return template.HTML(fmt.Sprintf("<!-- score=%v, sum=%d, count=%d -->", s.Score, s.Sum, s.Count))
	},
	"titleOf": func(s RankedStory) string {
		if s.Title == "" {
			return s.URL
		}
		return s.Title
	},
}).Parse(`<!doctype html>
<html>
<head>
    <meta charset="utf-8">
    <meta http-equiv="x-ua-compatible" content="ie=edge">
    <title>{{date .End}} {{.Site}} Daily News Feed</title>
    <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
    <link rel="stylesheet" href="https://stackpath.bootstrapcdn.com/bootstrap/4.1.3/css/bootstrap.min.css" integrity="sha384-MCw98/SFnGE8fJT3GXwEOngsV7Zt27NXFoaoApmYm81iuXoPkFOJwJ8ERdknLPMO" crossorigin="anonymous">
    <style>
        .media > img { max-height: 5rem; }
    </style>
</head>
<body>
    <main class="container">
        <h3>{{date .End}} {{.Site}} Daily News Feed</h3>
        <ul class="list-unstyled">
{{- range .Blocks}}
            <li class="">
                <h4>{{.Name}}</h4>
                <ol class="list-unstyled">
{{- range .Stories}}
                    <li class="media">
                        {{scoreComment .}}
                        <div class="media-body">
                            <h5 class="my-1"><a href="{{.URL}}">{{titleOf .}}</a></h5>
                            <p class="my-1">
{{- range .Tags}}
                                <span class="badge badge-dark">{{.}}</span>
{{- end}}
                            </p>
{{- if .Description}}
                            <p class="my-1">{{.Description}}</p>
{{- end}}
                        </div>
{{- if .ImageURL}}
                        <img class="ml-3" src="{{.ImageURL}}">
{{- end}}
                    </li>
{{- end}}
                </ol>
            </li>
{{- end}}
        </ul>
        <p>{{.Site}} from {{timestamp .Start}} until {{timestamp .End}}</p>
    </main>
</body>
</html>
`))
