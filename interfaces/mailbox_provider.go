package interfaces

import (
	"context"
)

// MailAttachment is one candidate report attachment of a message.
type MailAttachment struct {
	ID       string
	Filename string
	MimeType string
}

// MailMessage is the provider-neutral view of one mailbox message.
type MailMessage struct {
	ID          string
	Subject     string
	From        string
	Attachments []MailAttachment
}

// SearchPage is one page of message ids plus the token for the next page.
// NextToken is empty on the last page.
type SearchPage struct {
	MessageIDs []string
	NextToken  string
}

// MailboxProvider is the 4-operation surface every mail provider is reduced
// to. Archive removes the message from inbox-scoped searches so it is never
// reprocessed.
type MailboxProvider interface {
	Search(ctx context.Context, query string, pageToken string) (*SearchPage, error)
	GetMessage(ctx context.Context, messageID string) (*MailMessage, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	Archive(ctx context.Context, messageID string) error
}

// MailboxProviderFactory builds a provider bound to one account's mailbox.
type MailboxProviderFactory interface {
	ProviderFor(ctx context.Context, accountID string) (MailboxProvider, error)
}
