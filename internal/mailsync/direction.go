package mailsync

import (
	"strings"

	"github.com/covecrm/mailengine/internal/models"
	"github.com/covecrm/mailengine/internal/parser"
)

// MessageDirection classifies a message as outgoing when its sender matches
// the account's own address or when it came from a sent folder; everything
// else is incoming. Deliberately simple; changing it silently reclassifies
// existing mailboxes.
func MessageDirection(fromAddress, accountAddress, folderName string) models.Direction {
	from := parser.ExtractEmailAddress(fromAddress)
	if from != "" && strings.EqualFold(from, strings.TrimSpace(accountAddress)) {
		return models.DirectionOutgoing
	}

	if IsSentFolder(folderName) {
		return models.DirectionOutgoing
	}

	return models.DirectionIncoming
}

// IsSentFolder matches the usual spellings of sent folders across providers
// ("Sent", "SENT", "Sent Items", "[Gmail]/Sent Mail").
func IsSentFolder(folderName string) bool {
	return strings.Contains(strings.ToLower(folderName), "sent")
}
