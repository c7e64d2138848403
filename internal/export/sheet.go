package export

import (
	"bytes"
	"html/template"
	"strings"

	"ritual/api/internal/game"
)

var sheetTemplate = template.Must(template.New("sheet").Funcs(template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).Parse(sheetHTML))

// SheetData holds one character sheet for template rendering.
type SheetData struct {
	Name       string
	Title      string
	Avatar     string
	Image      string
	PV         game.Pool
	PD         game.Pool
	SAN        game.Pool
	Conditions []game.Condition
	Session    string
}

// PlayerSheet builds template data from a player sheet.
func PlayerSheet(code string, p game.Player) SheetData {
	return SheetData{
		Name:       p.Name,
		Title:      p.Title,
		Avatar:     p.Avatar,
		Image:      p.Image,
		PV:         p.PV,
		PD:         p.PD,
		SAN:        p.SAN,
		Conditions: p.Conditions,
		Session:    code,
	}
}

// MonsterSheet builds template data from a monster sheet.
func MonsterSheet(code string, m game.Monster) SheetData {
	return SheetData{
		Name:       m.Name,
		Title:      m.Title,
		Avatar:     m.Avatar,
		Image:      m.Image,
		PV:         m.PV,
		PD:         m.PD,
		SAN:        m.SAN,
		Conditions: m.Conditions,
		Session:    code,
	}
}

// RenderSheetHTML renders the printable character sheet.
func RenderSheetHTML(data SheetData) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ExportSheetPDF renders a sheet and prints it through headless Chrome.
func ExportSheetPDF(data SheetData) (*Result, error) {
	html, err := RenderSheetHTML(data)
	if err != nil {
		return nil, err
	}
	return exportPDF(html, data.Name)
}

const sheetHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Georgia, serif; max-width: 700px; margin: 2rem auto; color: #1a1a1a; }
    h1 { border-bottom: 3px double #7a1f1f; padding-bottom: 0.4rem; }
    .subtitle { color: #555; font-style: italic; margin-bottom: 1.5rem; }
    .portrait { float: right; max-width: 180px; margin: 0 0 1rem 1rem; border: 2px solid #333; }
    .avatar { font-size: 4rem; float: right; margin: 0 0 1rem 1rem; }
    table.pools { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    table.pools td, table.pools th { border: 1px solid #999; padding: 0.5rem 1rem; text-align: center; }
    table.pools th { background: #eee; text-transform: uppercase; font-size: 0.8em; letter-spacing: 0.1em; }
    .conditions span { display: inline-block; background: #7a1f1f; color: #fff; border-radius: 3px; padding: 0.1rem 0.6rem; margin-right: 0.4rem; font-size: 0.85em; }
    .meta { color: #777; font-size: 0.8em; margin-top: 2rem; border-top: 1px solid #ccc; padding-top: 0.5rem; }
  </style>
</head>
<body>
  {{if .Image}}<img class="portrait" src="{{.Image}}" alt="">{{else if .Avatar}}<div class="avatar">{{.Avatar}}</div>{{end}}
  <h1>{{.Name}}</h1>
  {{if .Title}}<div class="subtitle">{{.Title}}</div>{{end}}
  <table class="pools">
    <tr><th>PV</th><th>PD</th><th>SAN</th></tr>
    <tr>
      <td>{{.PV.Current}} / {{.PV.Max}}</td>
      <td>{{.PD.Current}} / {{.PD.Max}}</td>
      <td>{{.SAN.Current}} / {{.SAN.Max}}</td>
    </tr>
  </table>
  {{if .Conditions}}
  <div class="conditions">{{range .Conditions}}<span>{{title (printf "%s" .)}}</span>{{end}}</div>
  {{end}}
  <div class="meta">Session {{.Session}}</div>
</body>
</html>`
