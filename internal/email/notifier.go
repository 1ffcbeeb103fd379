package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"

	"accountserver/internal/domain"
)

//go:embed templates/*
var templatesFS embed.FS

var (
	htmlTemplate = htmltemplate.Must(htmltemplate.ParseFS(templatesFS, "templates/default.html"))
	textTemplate = texttemplate.Must(texttemplate.ParseFS(templatesFS, "templates/default.txt"))
)

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type templateData struct {
	Title     string
	Name      string
	Text      string
	Link      string
	LinkLabel string
	Company   string
	Footer    string
}

// Notifier renders account notifications and hands them to a Sender.
type Notifier struct {
	Sender  Sender
	Company string
	Footer  string
}

func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	msg, err := n.Render(note)
	if err != nil {
		return err
	}
	if err := n.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s mail: %w", note.Kind, err)
	}
	return nil
}

func (n *Notifier) Render(note domain.Notification) (Message, error) {
	data := templateData{
		Title:     note.Title,
		Name:      note.RecipientName,
		Text:      note.Text,
		Link:      note.Link,
		LinkLabel: note.LinkLabel,
		Company:   n.Company,
		Footer:    n.Footer,
	}

	var html, text bytes.Buffer
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	if err := textTemplate.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}

	return Message{
		ToEmail:  note.To,
		Subject:  note.Subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

// LogSender writes messages to the log instead of delivering them. It backs
// local setups without an SMTP relay.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not delivered, no smtp relay configured", "to", msg.ToEmail, "subject", msg.Subject, "body", msg.TextBody)
	return nil
}
