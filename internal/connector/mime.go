package connector

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// buildMIME renders an outbound message to wire format. Every message gets a
// locally generated Message-Id so retried submissions stay idempotent on the
// provider side; the id is returned alongside the bytes.
func buildMIME(msg *OutboundMessage) ([]byte, string, error) {
	messageID := generateMessageID(msg.From)

	builder := enmime.Builder().
		From(msg.FromName, msg.From).
		Subject(msg.Subject).
		Header("Message-Id", fmt.Sprintf("<%s>", messageID))

	for _, to := range msg.To {
		builder = builder.To("", to)
	}

	if msg.BodyText != "" {
		builder = builder.Text([]byte(msg.BodyText))
	}
	if msg.BodyHTML != "" {
		builder = builder.HTML([]byte(msg.BodyHTML))
	}

	for name, value := range msg.Headers {
		builder = builder.Header(name, value)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to encode message: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

func generateMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.TrimRight(from[at+1:], ">")
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domain)
}
