package models

import "time"

// ProviderKind identifies the remote provider family for an account.
type ProviderKind string

const (
	// ProviderIMAP is a mailbox-protocol account (IMAP fetch + SMTP submit).
	ProviderIMAP ProviderKind = "imap"
	// ProviderGmail is an HTTP-API account backed by the Gmail API.
	ProviderGmail ProviderKind = "gmail"
)

// Direction tells whether a message was sent or received by the account owner.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Account is one connected mailbox / send identity.
// Credentials are opaque to the engine; CredentialRef points at whatever
// the auth layer uses to resolve them.
type Account struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	CompanyID     string       `json:"company_id"`
	EmailAddress  string       `json:"email_address"`
	Provider      ProviderKind `json:"provider"`
	CredentialRef string       `json:"credential_ref"`
	LastSyncAt    *time.Time   `json:"last_sync_at"`
}

// EmailMessage is one ingested message. The idempotency key is
// (account_id, remote_id); UID and folder are kept for range bookkeeping.
type EmailMessage struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	CompanyID   string     `json:"company_id"`
	RemoteID    string     `json:"remote_id"`
	FolderName  string     `json:"folder_name"`
	UID         uint32     `json:"uid"`
	Direction   Direction  `json:"direction"`
	FromAddress string     `json:"from_address"`
	ToAddresses []string   `json:"to_addresses"`
	CCAddresses []string   `json:"cc_addresses"`
	Subject     string     `json:"subject"`
	BodyText    string     `json:"body_text"`
	BodyHTML    string     `json:"body_html"`
	SentAt      *time.Time `json:"sent_at"`
	ReceivedAt  *time.Time `json:"received_at"`
	IsRead      bool       `json:"is_read"`
}

// Recipient is one target of a bulk campaign, with its template variables.
type Recipient struct {
	Address   string            `json:"address"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Campaign describes one bulk send request.
type Campaign struct {
	ID                   string        `json:"id"`
	AccountID            string        `json:"account_id"`
	UserID               string        `json:"user_id"`
	CompanyID            string        `json:"company_id"`
	FromAddress          string        `json:"from_address"`
	FromName             string        `json:"from_name"`
	Subject              string        `json:"subject"`
	BodyText             string        `json:"body_text"`
	BodyHTML             string        `json:"body_html"`
	Recipients           []Recipient   `json:"recipients"`
	BatchSize            int           `json:"batch_size"`
	MaxConcurrentBatches int           `json:"max_concurrent_batches"`
	DelayBetweenBatches  time.Duration `json:"delay_between_batches"`
	MaxRetriesPerEmail   int           `json:"max_retries_per_email"`
	TrackOpens           bool          `json:"track_opens"`
	TrackClicks          bool          `json:"track_clicks"`
}

// CampaignState is the lifecycle state of a campaign run.
type CampaignState string

const (
	CampaignRunning   CampaignState = "running"
	CampaignCompleted CampaignState = "completed"
	CampaignCancelled CampaignState = "cancelled"
)

// CampaignStatus is the mutable progress record for one campaign.
type CampaignStatus struct {
	CampaignID      string        `json:"campaign_id"`
	State           CampaignState `json:"state"`
	Total           int           `json:"total"`
	Sent            int           `json:"sent"`
	Failed          int           `json:"failed"`
	Pending         int           `json:"pending"`
	PercentComplete float64       `json:"percent_complete"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
}

// DeliveryUnit tracks one (recipient, message) pair through its attempts.
type DeliveryUnit struct {
	Recipient string `json:"recipient"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Sent      bool   `json:"sent"`
}
