package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
)

// CapturedMessage is one delivery the relay accepted, envelope plus raw
// RFC 822 bytes.
type CapturedMessage struct {
	From string
	To   []string
	Data []byte
}

// RelayServer is an in-memory SMTP server that captures everything sent
// through it. It accepts any credentials, so sender tests can use whatever
// username and password the account under test carries.
type RelayServer struct {
	Address string

	srv  *smtp.Server
	sink *relaySink
}

const (
	relayUser = "test-user"
	relayPass = "test-pass"
)

// StartRelayServer starts an SMTP server on a random loopback port and
// registers its shutdown with t.Cleanup.
func StartRelayServer(t *testing.T) *RelayServer {
	t.Helper()

	sink := &relaySink{}
	srv := smtp.NewServer(sink)
	srv.AllowInsecureAuth = true
	srv.Domain = "localhost"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		_ = srv.Serve(listener)
	}()

	rs := &RelayServer{
		Address: listener.Addr().String(),
		srv:     srv,
		sink:    sink,
	}
	t.Cleanup(rs.Close)
	rs.waitReady(t)
	return rs
}

// Close shuts the relay down. Safe to call more than once.
func (s *RelayServer) Close() {
	_ = s.srv.Close()
}

func (s *RelayServer) Username() string { return relayUser }
func (s *RelayServer) Password() string { return relayPass }

func (s *RelayServer) waitReady(t *testing.T) {
	t.Helper()

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", s.Address)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("relay server at %s never became reachable", s.Address)
}

// Messages returns a snapshot of everything captured so far.
func (s *RelayServer) Messages() []CapturedMessage {
	return s.sink.snapshot()
}

// Reset drops all captured messages.
func (s *RelayServer) Reset() {
	s.sink.reset()
}

type relaySink struct {
	mu       sync.Mutex
	captured []CapturedMessage
}

func (b *relaySink) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &relaySession{sink: b}, nil
}

func (b *relaySink) snapshot() []CapturedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CapturedMessage, len(b.captured))
	copy(out, b.captured)
	return out
}

func (b *relaySink) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captured = nil
}

type relaySession struct {
	sink *relaySink
	from string
	to   []string
}

func (s *relaySession) AuthMechanism() (string, bool) {
	return "PLAIN", true
}

// Auth accepts any credentials.
func (s *relaySession) Auth(username, password string) error {
	return nil
}

func (s *relaySession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.captured = append(s.sink.captured, CapturedMessage{
		From: s.from,
		To:   s.to,
		Data: data,
	})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	return nil
}
