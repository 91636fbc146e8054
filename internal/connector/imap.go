package connector

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/covecrm/mailengine/internal/models"
)

// IMAPConnector fetches folder ranges over IMAP. Each call dials, logs in,
// selects the folder and logs out again; the engine serializes calls per
// (account, folder) so there is no connection reuse to manage.
type IMAPConnector struct {
	creds  CredentialsProvider
	useTLS bool
}

// NewIMAPConnector creates the connector. useTLS is false only in tests
// against the in-memory server.
func NewIMAPConnector(creds CredentialsProvider, useTLS bool) *IMAPConnector {
	return &IMAPConnector{creds: creds, useTLS: useTLS}
}

func (c *IMAPConnector) FetchHighestUID(ctx context.Context, account *models.Account, folder string) (uint32, error) {
	cl, mbox, err := c.connectAndSelect(ctx, account, folder)
	if err != nil {
		return 0, err
	}
	defer logout(cl)

	if mbox.Messages == 0 {
		return 0, nil
	}

	// UIDNEXT is one past the highest assigned UID.
	if mbox.UidNext > 0 {
		return mbox.UidNext - 1, nil
	}

	return 0, fmt.Errorf("folder %s did not report UIDNEXT", folder)
}

func (c *IMAPConnector) FetchRange(ctx context.Context, account *models.Account, folder string, from, to uint32) ([]RawMessage, error) {
	if from > to {
		return nil, nil
	}

	cl, mbox, err := c.connectAndSelect(ctx, account, folder)
	if err != nil {
		return nil, err
	}
	defer logout(cl)

	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	messages, err := c.fetchSet(cl, folder, seqSet)
	if err != nil {
		return nil, err
	}

	// A UID range fetch can include messages outside the requested bounds
	// when the mailbox is sparse; keep only the asked-for window.
	result := messages[:0]
	for _, msg := range messages {
		if msg.UID >= from && msg.UID <= to {
			result = append(result, msg)
		}
	}

	return result, nil
}

func (c *IMAPConnector) FetchSince(ctx context.Context, account *models.Account, folder string, since uint32) ([]RawMessage, error) {
	cl, mbox, err := c.connectAndSelect(ctx, account, folder)
	if err != nil {
		return nil, err
	}
	defer logout(cl)

	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(since+1, 0) // 0 is "*"

	messages, err := c.fetchSet(cl, folder, seqSet)
	if err != nil {
		return nil, err
	}

	// "uid:*" always matches the last message even when its UID is below the
	// lower bound, so filter strictly-above client-side.
	result := messages[:0]
	for _, msg := range messages {
		if msg.UID > since {
			result = append(result, msg)
		}
	}

	return result, nil
}

// fetchSet runs a UID FETCH for the set and drains the full message bodies.
func (c *IMAPConnector) fetchSet(cl *client.Client, folder string, seqSet *imap.SeqSet) ([]RawMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	ch := make(chan *imap.Message, 32)
	done := make(chan error, 1)

	go func() {
		done <- cl.UidFetch(seqSet, items, ch)
	}()

	var result []RawMessage
	for msg := range ch {
		raw := RawMessage{
			UID:    msg.Uid,
			Folder: folder,
			Flags:  msg.Flags,
		}

		if body := msg.GetBody(section); body != nil {
			data, err := io.ReadAll(body)
			if err == nil {
				raw.Raw = data
			}
		}

		result = append(result, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// connectAndSelect dials the server, authenticates, and selects the folder.
func (c *IMAPConnector) connectAndSelect(ctx context.Context, account *models.Account, folder string) (*client.Client, *imap.MailboxStatus, error) {
	creds, err := c.creds.Resolve(ctx, account)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	cl, err := dialIMAP(addr, c.useTLS)
	if err != nil {
		return nil, nil, err
	}

	if err := cl.Login(creds.Username, creds.Password); err != nil {
		logout(cl)
		return nil, nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	mbox, err := cl.Select(folder, true)
	if err != nil {
		logout(cl)
		return nil, nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	return cl, mbox, nil
}

// dialIMAP connects to the IMAP server with a 5-second timeout.
func dialIMAP(addr string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		cl, err := client.DialWithDialerTLS(dialer, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return cl, nil
	}

	cl, err := client.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return cl, nil
}

func logout(cl *client.Client) {
	_ = cl.Logout()
}
