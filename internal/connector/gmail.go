package connector

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/covecrm/mailengine/internal/models"
)

// GmailConnector talks to the Gmail API for HTTP-API accounts. Gmail has no
// IMAP-style UIDs, so the connector exposes label positions as sequence
// numbers: position 1 is the oldest message under the label, MessagesTotal
// the newest.
type GmailConnector struct {
	creds CredentialsProvider
}

func NewGmailConnector(creds CredentialsProvider) *GmailConnector {
	return &GmailConnector{creds: creds}
}

func (c *GmailConnector) FetchHighestUID(ctx context.Context, account *models.Account, folder string) (uint32, error) {
	srv, err := c.service(ctx, account)
	if err != nil {
		return 0, err
	}

	label, err := srv.Users.Labels.Get("me", labelID(folder)).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get label %s: %w", folder, err)
	}

	return uint32(label.MessagesTotal), nil
}

func (c *GmailConnector) FetchRange(ctx context.Context, account *models.Account, folder string, from, to uint32) ([]RawMessage, error) {
	if from > to {
		return nil, nil
	}

	srv, err := c.service(ctx, account)
	if err != nil {
		return nil, err
	}

	total, err := c.FetchHighestUID(ctx, account, folder)
	if err != nil {
		return nil, err
	}
	if total == 0 || from > total {
		return nil, nil
	}
	if to > total {
		to = total
	}

	// The list endpoint returns newest first; position (to) is (total-to)
	// entries into the listing.
	skip := total - to
	take := to - from + 1

	ids, err := c.listMessageIDs(ctx, srv, folder, int(skip), int(take))
	if err != nil {
		return nil, err
	}

	messages := make([]RawMessage, 0, len(ids))
	uid := to
	for _, id := range ids {
		msg, err := srv.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", id, err)
		}

		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
		}

		messages = append(messages, RawMessage{
			UID:    uid,
			Folder: folder,
			Raw:    raw,
			Flags:  flagsFromLabels(msg.LabelIds),
		})
		uid--
	}

	return messages, nil
}

func (c *GmailConnector) FetchSince(ctx context.Context, account *models.Account, folder string, since uint32) ([]RawMessage, error) {
	total, err := c.FetchHighestUID(ctx, account, folder)
	if err != nil {
		return nil, err
	}
	if total <= since {
		return nil, nil
	}

	return c.FetchRange(ctx, account, folder, since+1, total)
}

func (c *GmailConnector) Send(ctx context.Context, msg *OutboundMessage, creds Credentials) (*SendResult, error) {
	srv, err := gmail.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	raw, _, err := buildMIME(msg)
	if err != nil {
		return nil, err
	}

	sent, err := srv.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &SendResult{
		ProviderMessageID: sent.Id,
		ThreadID:          sent.ThreadId,
	}, nil
}

// listMessageIDs pages through the label listing, skipping `skip` newest
// entries and returning the next `take` ids (still newest first).
func (c *GmailConnector) listMessageIDs(ctx context.Context, srv *gmail.Service, folder string, skip, take int) ([]string, error) {
	var ids []string
	pageToken := ""

	for len(ids) < take {
		call := srv.Users.Messages.List("me").
			LabelIds(labelID(folder)).
			MaxResults(int64(skip + take - len(ids))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, m := range resp.Messages {
			if skip > 0 {
				skip--
				continue
			}
			if len(ids) < take {
				ids = append(ids, m.Id)
			}
		}

		if resp.NextPageToken == "" || len(ids) >= take {
			break
		}
		pageToken = resp.NextPageToken
	}

	return ids, nil
}

func (c *GmailConnector) service(ctx context.Context, account *models.Account) (*gmail.Service, error) {
	creds, err := c.creds.Resolve(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	srv, err := gmail.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return srv, nil
}

// labelID maps our folder names onto Gmail system labels.
func labelID(folder string) string {
	switch folder {
	case "INBOX", "":
		return "INBOX"
	case "Sent", "SENT":
		return "SENT"
	default:
		return folder
	}
}

func flagsFromLabels(labelIDs []string) []string {
	seen := true
	for _, id := range labelIDs {
		if id == "UNREAD" {
			seen = false
		}
	}
	if seen {
		return []string{"\\Seen"}
	}
	return nil
}
