package connector

import (
	"context"
	"fmt"

	"github.com/covecrm/mailengine/internal/models"
)

// Router dispatches to the right provider implementation per account kind.
type Router struct {
	imap  *IMAPConnector
	gmail *GmailConnector
	smtp  *SMTPSender
}

func NewRouter(imap *IMAPConnector, gmail *GmailConnector, smtp *SMTPSender) *Router {
	return &Router{imap: imap, gmail: gmail, smtp: smtp}
}

func (r *Router) FetchHighestUID(ctx context.Context, account *models.Account, folder string) (uint32, error) {
	fetcher, err := r.fetcherFor(account)
	if err != nil {
		return 0, err
	}
	return fetcher.FetchHighestUID(ctx, account, folder)
}

func (r *Router) FetchRange(ctx context.Context, account *models.Account, folder string, from, to uint32) ([]RawMessage, error) {
	fetcher, err := r.fetcherFor(account)
	if err != nil {
		return nil, err
	}
	return fetcher.FetchRange(ctx, account, folder, from, to)
}

func (r *Router) FetchSince(ctx context.Context, account *models.Account, folder string, since uint32) ([]RawMessage, error) {
	fetcher, err := r.fetcherFor(account)
	if err != nil {
		return nil, err
	}
	return fetcher.FetchSince(ctx, account, folder, since)
}

func (r *Router) Send(ctx context.Context, msg *OutboundMessage, creds Credentials) (*SendResult, error) {
	if creds.Provider == models.ProviderGmail {
		return r.gmail.Send(ctx, msg, creds)
	}
	return r.smtp.Send(ctx, msg, creds)
}

func (r *Router) fetcherFor(account *models.Account) (Fetcher, error) {
	switch account.Provider {
	case models.ProviderGmail:
		return r.gmail, nil
	case models.ProviderIMAP:
		return r.imap, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q for account %s", account.Provider, account.ID)
	}
}
