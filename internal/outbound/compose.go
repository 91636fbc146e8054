package outbound

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/models"
)

var (
	variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	hrefPattern     = regexp.MustCompile(`href="(https?://[^"]+)"`)
)

// Composer renders per-recipient messages from a campaign template.
// TrackingBaseURL is where open pixels and click redirects point; tracking is
// skipped entirely when it is empty.
type Composer struct {
	TrackingBaseURL string
}

// Compose renders the campaign template for one recipient, substituting
// template variables and applying open/click tracking when enabled.
func (c *Composer) Compose(campaign *models.Campaign, recipient models.Recipient) *connector.OutboundMessage {
	msg := &connector.OutboundMessage{
		From:     campaign.FromAddress,
		FromName: campaign.FromName,
		To:       []string{recipient.Address},
		Subject:  substituteVariables(campaign.Subject, recipient.Variables),
		BodyText: substituteVariables(campaign.BodyText, recipient.Variables),
		BodyHTML: substituteVariables(campaign.BodyHTML, recipient.Variables),
	}

	if c.TrackingBaseURL == "" || msg.BodyHTML == "" {
		return msg
	}

	if campaign.TrackClicks {
		msg.BodyHTML = c.rewriteLinks(msg.BodyHTML, campaign.ID, recipient.Address)
	}
	if campaign.TrackOpens {
		msg.BodyHTML = c.injectOpenPixel(msg.BodyHTML, campaign.ID, recipient.Address)
	}

	return msg
}

// substituteVariables replaces {{name}} tokens with the recipient's values.
// Unknown tokens are left untouched so a template typo is visible in the
// delivered mail rather than silently blanked.
func substituteVariables(template string, vars map[string]string) string {
	if template == "" || len(vars) == 0 {
		return template
	}

	return variablePattern.ReplaceAllStringFunc(template, func(token string) string {
		name := variablePattern.FindStringSubmatch(token)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return token
	})
}

func (c *Composer) injectOpenPixel(html, campaignID, recipient string) string {
	pixel := fmt.Sprintf(`<img src="%s/t/open?c=%s&r=%s" width="1" height="1" alt="" style="display:none">`,
		c.TrackingBaseURL, url.QueryEscape(campaignID), url.QueryEscape(recipient))

	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}

func (c *Composer) rewriteLinks(html, campaignID, recipient string) string {
	return hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		target := hrefPattern.FindStringSubmatch(match)[1]
		return fmt.Sprintf(`href="%s/t/click?c=%s&r=%s&u=%s"`,
			c.TrackingBaseURL, url.QueryEscape(campaignID), url.QueryEscape(recipient), url.QueryEscape(target))
	})
}
