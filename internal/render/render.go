// Package render formats outbound ticket summaries.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Ticket is the view model for a rendered submission.
type Ticket struct {
	ID          string
	Requester   string
	RequesterID int64
	Email       string
	Topic       string
	Body        string
	Attachments int
}

// Renderer renders ticket summaries for the relay chat and the email sink.
type Renderer struct {
	text *template.Template
	html *htmltemplate.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	text, err := template.ParseFS(templatesFS, "templates/ticket.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	html, err := htmltemplate.ParseFS(templatesFS, "templates/ticket.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	return &Renderer{text: text, html: html}, nil
}

// Summary renders the plain-text summary sent to the relay chat and used
// as the email text body.
func (r *Renderer) Summary(t Ticket) (string, error) {
	var buf bytes.Buffer
	if err := r.text.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return buf.String(), nil
}

// HTML renders the email HTML body.
func (r *Renderer) HTML(t Ticket) (string, error) {
	var buf bytes.Buffer
	if err := r.html.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Subject builds the email subject line.
func (r *Renderer) Subject(t Ticket) string {
	return fmt.Sprintf("[%s] %s - %s", t.ID, t.Topic, t.Requester)
}
