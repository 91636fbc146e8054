package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covecrm/mailengine/internal/parser"
	"github.com/covecrm/mailengine/internal/testutil"
)

func TestSMTPSendDeliversMessage(t *testing.T) {
	server := testutil.StartRelayServer(t)

	sender := NewSMTPSender()
	creds := credsForAddr(t, server.Address, server.Username(), server.Password())

	result, err := sender.Send(context.Background(), &OutboundMessage{
		From:     "owner@example.com",
		FromName: "Owner",
		To:       []string{"ada@example.com"},
		Subject:  "delivery check",
		BodyText: "plain body",
		BodyHTML: "<p>html body</p>",
	}, creds)
	require.NoError(t, err)
	require.NotEmpty(t, result.ProviderMessageID)
	assert.Contains(t, result.ProviderMessageID, "@example.com")

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "owner@example.com", messages[0].From)
	assert.Equal(t, []string{"ada@example.com"}, messages[0].To)

	parsed, err := parser.ParseRawMessage(messages[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "delivery check", parsed.Subject)
	assert.Equal(t, "plain body", parsed.BodyText)
	assert.Contains(t, parsed.BodyHTML, "html body")

	// The locally generated Message-Id survives the wire round trip.
	assert.Equal(t, result.ProviderMessageID, parsed.MessageID)
}

func TestSMTPSendConnectionRefused(t *testing.T) {
	sender := NewSMTPSender()
	creds := Credentials{Host: "127.0.0.1", Port: 1} // nothing listens here

	_, err := sender.Send(context.Background(), &OutboundMessage{
		From:     "owner@example.com",
		To:       []string{"ada@example.com"},
		Subject:  "x",
		BodyText: "x",
	}, creds)
	require.Error(t, err)
}
