// Package connector holds the remote-provider boundary: fetching folder
// ranges from a mailbox and submitting composed messages. The sync engine and
// the delivery pipeline only ever see these interfaces.
package connector

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/covecrm/mailengine/internal/models"
)

// RawMessage is one unparsed message as fetched from the provider.
type RawMessage struct {
	UID    uint32
	Folder string
	Raw    []byte
	Flags  []string
}

// OutboundMessage is a fully composed message ready for submission.
type OutboundMessage struct {
	From     string
	FromName string
	To       []string
	Subject  string
	BodyText string
	BodyHTML string
	Headers  map[string]string
}

// SendResult carries the provider's identifiers for a accepted message.
type SendResult struct {
	ProviderMessageID string
	ThreadID          string
}

// Credentials are resolved out-of-band and handed to the connector per call.
// For mailbox-protocol accounts the host/username/password fields apply; for
// HTTP-API accounts the token source does.
type Credentials struct {
	Provider    models.ProviderKind
	Host        string
	Port        int
	Username    string
	Password    string
	UseTLS      bool
	TokenSource oauth2.TokenSource
}

// CredentialsProvider resolves an account's opaque credential reference into
// usable credentials. Token refresh happens behind this interface.
type CredentialsProvider interface {
	Resolve(ctx context.Context, account *models.Account) (Credentials, error)
}

// Fetcher reads a remote folder by UID ranges.
type Fetcher interface {
	// FetchHighestUID returns the highest remote sequence number in the
	// folder, or 0 for an empty folder.
	FetchHighestUID(ctx context.Context, account *models.Account, folder string) (uint32, error)
	// FetchRange returns messages with from <= UID <= to.
	FetchRange(ctx context.Context, account *models.Account, folder string, from, to uint32) ([]RawMessage, error)
	// FetchSince returns messages with UID strictly greater than since.
	FetchSince(ctx context.Context, account *models.Account, folder string, since uint32) ([]RawMessage, error)
}

// Sender submits one composed message.
type Sender interface {
	Send(ctx context.Context, msg *OutboundMessage, creds Credentials) (*SendResult, error)
}

// Connector is the full provider boundary.
type Connector interface {
	Fetcher
	Sender
}
