package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"chefbook/internal/models"
)

const fallbackTemplate = "default"

var builtinTemplates = map[string]string{
	fallbackTemplate: `<h2>{{.Title}}</h2><p>{{.Message}}</p>`,
	models.NotifyBookingReminder: `<h2>{{.Title}}</h2><p>{{.Message}}</p>` +
		`{{with .Data.event_date}}<p>Event date: <strong>{{.}}</strong></p>{{end}}`,
	models.NotifyPaymentReceived: `<h2>{{.Title}}</h2><p>{{.Message}}</p>` +
		`{{with .Data.amount}}<p>Amount received: {{.}} {{$.Data.currency}}</p>{{end}}`,
	models.NotifyRefundIssued: `<h2>{{.Title}}</h2><p>{{.Message}}</p>` +
		`{{with .Data.refund_amount}}<p>Refunded: {{.}} {{$.Data.currency}}</p>{{end}}`,
	models.NotifyDisputeResolved: `<h2>{{.Title}}</h2><p>{{.Message}}</p>` +
		`{{with .Data.outcome}}<p>Outcome: {{.}}</p>{{end}}`,
}

// Templates renders email bodies per notification type.
type Templates struct {
	set *template.Template
}

// LoadTemplates parses the builtin templates and, when dir is set, every
// <type>.html file in it. Files override builtins of the same name.
func LoadTemplates(dir string) (*Templates, error) {
	root := template.New(fallbackTemplate).Option("missingkey=zero")
	for name, body := range builtinTemplates {
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
	}

	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		for _, file := range files {
			body, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", file, err)
			}
			name := strings.TrimSuffix(filepath.Base(file), ".html")
			if _, err := root.New(name).Parse(string(body)); err != nil {
				return nil, fmt.Errorf("parse template %s: %w", file, err)
			}
		}
	}

	return &Templates{set: root}, nil
}

// Render returns the subject and HTML body for n.
func (t *Templates) Render(n *models.Notification) (string, string, error) {
	tmpl := t.set.Lookup(n.Type)
	if tmpl == nil {
		tmpl = t.set.Lookup(fallbackTemplate)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("render %s: %w", n.Type, err)
	}

	subject := n.Title
	if subject == "" {
		subject = strings.ReplaceAll(n.Type, "_", " ")
	}
	return subject, buf.String(), nil
}
