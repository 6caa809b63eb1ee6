package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDomainMismatch means the report's declared policy domain does not
	// match the domain the sync routed it to. This indicates a routing bug
	// upstream and is never retried.
	ErrDomainMismatch = errors.New("report policy domain does not match target domain")

	ErrDomainNotFound  = errors.New("domain not found")
	ErrSourceNotFound  = errors.New("source not found")
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrAccountNotFound = errors.New("mailbox account not found")

	ErrSyncAlreadyRunning = errors.New("sync already in progress for account")
)

type ParseErrorKind string

const (
	ParseMissingMetadata    ParseErrorKind = "missing_metadata"
	ParseMissingPolicy      ParseErrorKind = "missing_policy"
	ParseMalformedDateRange ParseErrorKind = "malformed_date_range"
	ParseMalformedXML       ParseErrorKind = "malformed_xml"
)

// ParseError is a fatal, non-retryable failure for a single report. It is
// returned as a value so batch processing continues past one bad attachment.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dmarc parse error (%s): %s", e.Kind, e.Msg)
}

func NewParseError(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// RateLimitedError marks a 429 from an external collaborator. The job layer
// treats it as retryable with exponential backoff.
type RateLimitedError struct {
	Provider string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
