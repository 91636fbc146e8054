package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// MailboxServer is an in-memory IMAP server standing in for a provider
// mailbox. The memory backend ships with a single fixed user, so Username
// and Password always return that user's credentials.
type MailboxServer struct {
	Address string

	srv     *server.Server
	backend *memory.Backend
}

// mailboxUser/mailboxPass are fixed by the go-imap memory backend.
const (
	mailboxUser = "username"
	mailboxPass = "password"
)

// StartMailboxServer starts an IMAP server on a random loopback port and
// registers its shutdown with t.Cleanup.
func StartMailboxServer(t *testing.T) *MailboxServer {
	t.Helper()

	backend := memory.New()
	srv := server.New(backend)
	srv.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		_ = srv.Serve(listener)
	}()

	ms := &MailboxServer{
		Address: listener.Addr().String(),
		srv:     srv,
		backend: backend,
	}
	t.Cleanup(ms.Close)
	ms.waitReady(t)
	return ms
}

// Close shuts the server down. Safe to call more than once.
func (s *MailboxServer) Close() {
	_ = s.srv.Close()
}

func (s *MailboxServer) Username() string { return mailboxUser }
func (s *MailboxServer) Password() string { return mailboxPass }

// waitReady dials until the listener accepts, so tests never race the
// serve goroutine.
func (s *MailboxServer) waitReady(t *testing.T) {
	t.Helper()

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", s.Address)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mailbox server at %s never became reachable", s.Address)
}

func (s *MailboxServer) dial(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("failed to dial mailbox server: %v", err)
	}
	if err := client.Login(mailboxUser, mailboxPass); err != nil {
		_ = client.Logout()
		t.Fatalf("failed to login: %v", err)
	}
	return client, func() { _ = client.Logout() }
}

// EnsureFolders creates the given folders if the backend does not already
// have them. Sync tests typically ask for INBOX and Sent, mirroring the
// folder set the engine walks.
func (s *MailboxServer) EnsureFolders(t *testing.T, folders ...string) {
	t.Helper()

	client, done := s.dial(t)
	defer done()

	for _, folder := range folders {
		if _, err := client.Select(folder, false); err == nil {
			continue
		}
		if err := client.Create(folder); err != nil {
			t.Fatalf("failed to create folder %s: %v", folder, err)
		}
		if _, err := client.Select(folder, false); err != nil {
			t.Fatalf("failed to select folder %s: %v", folder, err)
		}
	}
}

// Fixture describes one message to seed into a folder.
type Fixture struct {
	MessageID string
	Subject   string
	From      string
	To        string
	SentAt    time.Time

	// Unread leaves the Seen flag off, so the synced record comes back
	// with IsRead false.
	Unread bool
}

// Seed appends the fixture to the folder and returns the UID the server
// assigned to it.
func (s *MailboxServer) Seed(t *testing.T, folder string, fx Fixture) uint32 {
	t.Helper()

	client, done := s.dial(t)
	defer done()

	if _, err := client.Select(folder, false); err != nil {
		t.Fatalf("failed to select folder %s: %v", folder, err)
	}

	var raw strings.Builder
	fmt.Fprintf(&raw, "Message-ID: %s\r\n", fx.MessageID)
	fmt.Fprintf(&raw, "Date: %s\r\n", fx.SentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&raw, "From: %s\r\n", fx.From)
	fmt.Fprintf(&raw, "To: %s\r\n", fx.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", fx.Subject)
	raw.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	raw.WriteString("\r\nseeded message body\r\n")

	var flags []string
	if !fx.Unread {
		flags = []string{imap.SeenFlag}
	}
	if err := client.Append(folder, flags, time.Now(), strings.NewReader(raw.String())); err != nil {
		t.Fatalf("failed to append fixture: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", fx.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("failed to search for fixture: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("fixture %s not found after append", fx.MessageID)
	}
	return uids[0]
}
