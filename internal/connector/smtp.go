package connector

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPSender submits messages over SMTP for mailbox-protocol accounts.
type SMTPSender struct{}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{}
}

func (s *SMTPSender) Send(_ context.Context, msg *OutboundMessage, creds Credentials) (*SendResult, error) {
	raw, messageID, err := buildMIME(msg)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", creds.Host, creds.Port)

	var auth sasl.Client
	if creds.Username != "" {
		auth = sasl.NewPlainClient("", creds.Username, creds.Password)
	}

	if creds.UseTLS {
		err = smtp.SendMailTLS(addr, auth, msg.From, msg.To, bytes.NewReader(raw))
	} else {
		err = smtp.SendMail(addr, auth, msg.From, msg.To, bytes.NewReader(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit message: %w", err)
	}

	return &SendResult{ProviderMessageID: messageID}, nil
}
