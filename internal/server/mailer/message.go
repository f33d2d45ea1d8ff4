// Package mailer renders and delivers transactional email.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	codeText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/code.txt.tmpl"))
	codeHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/code.html.tmpl"))
)

// Message is a rendered email with plain-text and HTML alternatives.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type codeData struct {
	Host       string
	Code       string
	TTLMinutes int
}

// NewCodeMessage renders the sign-in code email for to.
func NewCodeMessage(to, code, host string, ttl time.Duration) (Message, error) {
	data := codeData{Host: host, Code: code, TTLMinutes: int(ttl.Round(time.Minute) / time.Minute)}

	var text, html bytes.Buffer
	if err := codeText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := codeHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}

	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your sign-in code for %s", host),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
