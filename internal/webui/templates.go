package webui

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ca-srg/slackself/internal/selfmessages"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateManager manages HTML templates
type TemplateManager struct {
	templates *template.Template
}

// NewTemplateManager parses the embedded templates
func NewTemplateManager() (*TemplateManager, error) {
	funcMap := template.FuncMap{
		"typeOptions": typeOptions,
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &TemplateManager{
		templates: tmpl,
	}, nil
}

// Render renders a template to the writer
func (tm *TemplateManager) Render(w io.Writer, name string, data interface{}) error {
	return tm.templates.ExecuteTemplate(w, name, data)
}

type typeOption struct {
	Value string
	Label string
}

// typeOptions lists the conversation type checkboxes in display order
func typeOptions() []typeOption {
	return []typeOption{
		{Value: selfmessages.TypeChannel, Label: "Channels"},
		{Value: selfmessages.TypeGroupDM, Label: "Group DMs"},
		{Value: selfmessages.TypeDM, Label: "DMs"},
	}
}
