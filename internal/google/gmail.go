package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailSender delivers HTML mail through the Gmail API on behalf of sender.
type GmailSender struct {
	service *gmail.Service
	sender  string
}

// NewGmailSender authenticates a service account with domain-wide delegation
// and impersonates sender.
func NewGmailSender(ctx context.Context, credentialsFile, sender string) (*GmailSender, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	config.Subject = sender

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return NewGmailSenderWithService(srv, sender), nil
}

func NewGmailSenderWithService(srv *gmail.Service, sender string) *GmailSender {
	return &GmailSender{service: srv, sender: sender}
}

// Send returns the Gmail message id.
func (s *GmailSender) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient address is empty")
	}

	raw := buildMessage(s.sender, to, subject, htmlBody)
	msg, err := s.service.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send to %s: %w", to, err)
	}
	return msg.Id, nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
