// Package errclass maps raw send/fetch failures to a retry classification.
// Classification drives the retry policy and the dead-letter decision; the
// suggested action is only ever used in operator-facing logs.
package errclass

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/emersion/go-smtp"
	"google.golang.org/api/googleapi"
)

// Category is the failure taxonomy shared with the retry policy.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryQuota          Category = "quota"
	CategoryRateLimit      Category = "rate_limit"
	CategoryNetwork        Category = "network"
	CategoryServer         Category = "server"
	CategoryClient         Category = "client"
	CategoryUnknown        Category = "unknown"
)

// Classification is the full verdict for one raw error.
type Classification struct {
	Retryable       bool
	Permanent       bool
	Temporary       bool
	Category        Category
	SuggestedAction string
	StatusCode      int
}

// Classify maps a raw error to its classification. It is total (never panics,
// handles nil) and deterministic for identical inputs.
//
// Precedence: provider structured errors first (a Gmail 403 splits into quota
// vs permissions by reason code), then generic HTTP status ranges, then known
// network failures, then the permanent-unknown default.
func Classify(err error) Classification {
	if err == nil {
		return Classification{
			Permanent:       true,
			Category:        CategoryUnknown,
			SuggestedAction: "no error to classify",
		}
	}

	// Provider structured error bodies carry the most specific signal.
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyProviderError(apiErr)
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return classifySMTPError(smtpErr)
	}

	// Known network failures are retryable and temporary.
	if cls, ok := classifyNetworkError(err); ok {
		return cls
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryNetwork,
			SuggestedAction: "retry with backoff",
		}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{
			Permanent:       true,
			Category:        CategoryClient,
			SuggestedAction: "caller cancelled the request",
		}
	}

	return Classification{
		Permanent:       true,
		Category:        CategoryUnknown,
		SuggestedAction: "inspect the error and replay manually if appropriate",
	}
}

// classifyProviderError handles Gmail API error payloads. Reason codes matter:
// quota exhaustion and missing permissions both arrive as HTTP 403.
func classifyProviderError(apiErr *googleapi.Error) Classification {
	reason := ""
	if len(apiErr.Errors) > 0 {
		reason = apiErr.Errors[0].Reason
	}

	switch apiErr.Code {
	case 401:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryAuthentication,
			SuggestedAction: "refresh the access token and retry",
			StatusCode:      apiErr.Code,
		}
	case 403:
		switch reason {
		case "quotaExceeded", "dailyLimitExceeded", "userRateLimitExceeded":
			if reason == "userRateLimitExceeded" {
				return Classification{
					Retryable:       true,
					Temporary:       true,
					Category:        CategoryRateLimit,
					SuggestedAction: "reduce send rate and retry with backoff",
					StatusCode:      apiErr.Code,
				}
			}
			return Classification{
				Retryable:       true,
				Temporary:       true,
				Category:        CategoryQuota,
				SuggestedAction: "wait for the quota window to reset",
				StatusCode:      apiErr.Code,
			}
		default:
			return Classification{
				Permanent:       true,
				Category:        CategoryClient,
				SuggestedAction: "check account permissions and scopes",
				StatusCode:      apiErr.Code,
			}
		}
	case 429:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryRateLimit,
			SuggestedAction: "reduce send rate and retry with backoff",
			StatusCode:      apiErr.Code,
		}
	}

	return classifyStatusCode(apiErr.Code)
}

// classifyStatusCode applies the generic HTTP ranges: 429/408 retryable,
// other 4xx permanent, 5xx retryable.
func classifyStatusCode(code int) Classification {
	switch {
	case code == 429 || code == 408:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryRateLimit,
			SuggestedAction: "retry with backoff",
			StatusCode:      code,
		}
	case code >= 500:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryServer,
			SuggestedAction: "retry with backoff",
			StatusCode:      code,
		}
	case code >= 400:
		return Classification{
			Permanent:       true,
			Category:        CategoryClient,
			SuggestedAction: "check the request payload",
			StatusCode:      code,
		}
	}

	return Classification{
		Permanent:       true,
		Category:        CategoryUnknown,
		SuggestedAction: "inspect the provider response",
		StatusCode:      code,
	}
}

// classifySMTPError maps SMTP reply codes: 4yz is transient, 5yz permanent.
// 452 ("insufficient system storage") is the conventional over-quota reply.
func classifySMTPError(smtpErr *smtp.SMTPError) Classification {
	switch {
	case smtpErr.Code == 452:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryQuota,
			SuggestedAction: "wait for the quota window to reset",
			StatusCode:      smtpErr.Code,
		}
	case smtpErr.Code == 421 || smtpErr.Code == 450 || smtpErr.Code == 451:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryServer,
			SuggestedAction: "retry with backoff",
			StatusCode:      smtpErr.Code,
		}
	case smtpErr.Code == 535 || smtpErr.Code == 530:
		return Classification{
			Retryable:       true,
			Temporary:       true,
			Category:        CategoryAuthentication,
			SuggestedAction: "refresh credentials and retry",
			StatusCode:      smtpErr.Code,
		}
	case smtpErr.Code >= 500:
		return Classification{
			Permanent:       true,
			Category:        CategoryClient,
			SuggestedAction: "check the recipient address and message",
			StatusCode:      smtpErr.Code,
		}
	}

	return Classification{
		Retryable:       true,
		Temporary:       true,
		Category:        CategoryServer,
		SuggestedAction: "retry with backoff",
		StatusCode:      smtpErr.Code,
	}
}

func classifyNetworkError(err error) (Classification, bool) {
	retryableNetwork := Classification{
		Retryable:       true,
		Temporary:       true,
		Category:        CategoryNetwork,
		SuggestedAction: "retry with backoff",
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return retryableNetwork, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retryableNetwork, true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retryableNetwork, true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return retryableNetwork, true
	}

	// String fallback for wrapped errors that lost their type.
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"connection reset", "connection refused", "no such host", "i/o timeout", "broken pipe"} {
		if strings.Contains(msg, fragment) {
			return retryableNetwork, true
		}
	}

	return Classification{}, false
}
