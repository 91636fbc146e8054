package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covecrm/mailengine/internal/models"
)

func TestSubstituteVariables(t *testing.T) {
	vars := map[string]string{"first_name": "Ada", "company": "Holloway"}

	assert.Equal(t, "Hi Ada from Holloway",
		substituteVariables("Hi {{first_name}} from {{company}}", vars))
	assert.Equal(t, "Hi Ada",
		substituteVariables("Hi {{ first_name }}", vars))

	// Unknown tokens stay visible instead of being blanked.
	assert.Equal(t, "Hi {{nickname}}",
		substituteVariables("Hi {{nickname}}", vars))

	assert.Equal(t, "no tokens here", substituteVariables("no tokens here", vars))
	assert.Equal(t, "", substituteVariables("", vars))
}

func TestComposeRendersPerRecipient(t *testing.T) {
	composer := &Composer{}
	campaign := &models.Campaign{
		ID:          "camp-1",
		FromAddress: "owner@example.com",
		FromName:    "Owner",
		Subject:     "Hello {{first_name}}",
		BodyText:    "Dear {{first_name}},",
		BodyHTML:    "<p>Dear {{first_name}},</p>",
	}

	msg := composer.Compose(campaign, models.Recipient{
		Address:   "ada@example.com",
		Variables: map[string]string{"first_name": "Ada"},
	})

	assert.Equal(t, []string{"ada@example.com"}, msg.To)
	assert.Equal(t, "Hello Ada", msg.Subject)
	assert.Equal(t, "Dear Ada,", msg.BodyText)
	assert.Equal(t, "<p>Dear Ada,</p>", msg.BodyHTML)
}

func TestOpenPixelInjection(t *testing.T) {
	composer := &Composer{TrackingBaseURL: "https://track.example.com"}
	campaign := &models.Campaign{
		ID:          "camp-1",
		FromAddress: "owner@example.com",
		BodyHTML:    "<html><body><p>Hi</p></body></html>",
		TrackOpens:  true,
	}

	msg := composer.Compose(campaign, models.Recipient{Address: "ada@example.com"})

	require.Contains(t, msg.BodyHTML, `https://track.example.com/t/open?c=camp-1&r=ada%40example.com`)
	// The pixel lands inside the body element.
	assert.Contains(t, msg.BodyHTML, `style="display:none"></body>`)
}

func TestClickTrackingRewritesLinks(t *testing.T) {
	composer := &Composer{TrackingBaseURL: "https://track.example.com"}
	campaign := &models.Campaign{
		ID:          "camp-1",
		FromAddress: "owner@example.com",
		BodyHTML:    `<a href="https://example.com/pricing">Pricing</a>`,
		TrackClicks: true,
	}

	msg := composer.Compose(campaign, models.Recipient{Address: "ada@example.com"})

	assert.Contains(t, msg.BodyHTML, "https://track.example.com/t/click?")
	assert.Contains(t, msg.BodyHTML, "u=https%3A%2F%2Fexample.com%2Fpricing")
	assert.NotContains(t, msg.BodyHTML, `href="https://example.com/pricing"`)
}

func TestTrackingSkippedWithoutBaseURL(t *testing.T) {
	composer := &Composer{}
	campaign := &models.Campaign{
		ID:          "camp-1",
		FromAddress: "owner@example.com",
		BodyHTML:    `<a href="https://example.com">Link</a>`,
		TrackOpens:  true,
		TrackClicks: true,
	}

	msg := composer.Compose(campaign, models.Recipient{Address: "ada@example.com"})
	assert.Equal(t, campaign.BodyHTML, msg.BodyHTML)
}
