package connector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covecrm/mailengine/internal/parser"
)

func TestBuildMIME(t *testing.T) {
	raw, messageID, err := buildMIME(&OutboundMessage{
		From:     "owner@example.com",
		FromName: "Owner",
		To:       []string{"ada@example.com", "bob@example.com"},
		Subject:  "greetings",
		BodyText: "text part",
		BodyHTML: "<p>html part</p>",
		Headers:  map[string]string{"X-Campaign-Id": "camp-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.True(t, strings.HasSuffix(messageID, "@example.com"))

	parsed, err := parser.ParseRawMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, messageID, parsed.MessageID)
	assert.Equal(t, "greetings", parsed.Subject)
	assert.Equal(t, "text part", parsed.BodyText)
	assert.Contains(t, parsed.BodyHTML, "html part")
	assert.Len(t, parsed.To, 2)
	assert.Contains(t, string(raw), "X-Campaign-Id: camp-1")
}

func TestGenerateMessageID(t *testing.T) {
	id := generateMessageID("owner@example.com")
	assert.True(t, strings.HasSuffix(id, "@example.com"))

	// No usable domain falls back to localhost.
	assert.True(t, strings.HasSuffix(generateMessageID("not-an-address"), "@localhost"))
	assert.True(t, strings.HasSuffix(generateMessageID(""), "@localhost"))

	// Ids are unique per call.
	assert.NotEqual(t, id, generateMessageID("owner@example.com"))
}
