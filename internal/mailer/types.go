// Package mailer defines the outbound email contract and its providers.
package mailer

import "context"

// ProviderName identifies a mail provider implementation.
type ProviderName string

// Attachment is a fetched binary payload attached to an outbound message.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is one outbound email.
type Message struct {
	To          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Sender delivers a message through one provider. Implementations return
// the provider-issued message id when available.
type Sender interface {
	Type() ProviderName
	Send(ctx context.Context, msg Message) (string, error)
}
