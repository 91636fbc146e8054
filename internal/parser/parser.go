// Package parser turns raw RFC 5322 bytes into the structured fields the
// sync engine stores. MIME handling is entirely delegated to enmime.
package parser

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// ParsedMessage is the structured form of one raw message.
type ParsedMessage struct {
	MessageID string
	From      string
	To        []string
	Cc        []string
	Subject   string
	BodyText  string
	BodyHTML  string
	Date      time.Time
}

// ParseRawMessage parses one raw message.
func ParseRawMessage(raw []byte) (*ParsedMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("raw message is empty")
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &ParsedMessage{
		MessageID: strings.Trim(envelope.GetHeader("Message-Id"), "<> "),
		Subject:   envelope.GetHeader("Subject"),
		BodyText:  envelope.Text,
	}

	// Prefer the HTML part; fall back to a line-broken text rendering so the
	// client always has something to display.
	msg.BodyHTML = envelope.HTML
	if msg.BodyHTML == "" && envelope.Text != "" {
		msg.BodyHTML = strings.ReplaceAll(envelope.Text, "\n", "<br>")
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = formatAddress(from[0])
	} else {
		msg.From = envelope.GetHeader("From")
	}

	msg.To = formatAddressList(envelope, "To")
	msg.Cc = formatAddressList(envelope, "Cc")

	if date := envelope.GetHeader("Date"); date != "" {
		if parsed, err := mail.ParseDate(date); err == nil {
			msg.Date = parsed
		}
	}

	return msg, nil
}

// ExtractEmailAddress strips any display name from an address string:
// "Jane Doe <jane@example.com>" becomes "jane@example.com".
func ExtractEmailAddress(address string) string {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return strings.TrimSpace(address)
	}
	return parsed.Address
}

func formatAddress(address *mail.Address) string {
	if address == nil || address.Address == "" {
		return ""
	}

	if address.Name != "" {
		return fmt.Sprintf("%s <%s>", address.Name, address.Address)
	}

	return address.Address
}

func formatAddressList(envelope *enmime.Envelope, header string) []string {
	addresses, err := envelope.AddressList(header)
	if err != nil {
		return nil
	}

	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		formatted := formatAddress(address)
		if formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
