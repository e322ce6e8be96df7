package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies extraction failures so the fallback chain can log them
// distinctly. All kinds are currently handled the same way, by moving on to
// the next provider.
type Kind int

const (
	// KindOther covers network errors, parse failures and anything unexpected.
	KindOther Kind = iota
	// KindQuota means the provider's rate limit or budget is exhausted.
	KindQuota
	// KindConfiguration means the provider is missing credentials or endpoint.
	KindConfiguration
	// KindNoData means the provider ran but recognized nothing usable.
	KindNoData
)

func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindConfiguration:
		return "configuration"
	case KindNoData:
		return "no-data"
	default:
		return "other"
	}
}

// Error is an extraction failure attributed to a single provider.
type Error struct {
	Provider string
	Kind     Kind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a provider-attributed extraction error.
func NewError(provider string, kind Kind, message string, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message, Err: err}
}

// AllProvidersError is raised when every provider in a fallback chain failed.
// It carries the last provider's failure so callers can show a meaningful
// diagnostic.
type AllProvidersError struct {
	LastErr error
}

func (e *AllProvidersError) Error() string {
	last := "unknown error"
	if e.LastErr != nil {
		last = e.LastErr.Error()
	}
	return fmt.Sprintf("all extraction providers failed, last error: %s", last)
}

func (e *AllProvidersError) Unwrap() error {
	return e.LastErr
}

// ClassifyKind inspects an error for quota or configuration markers. Errors
// already carrying a Kind keep it; everything else is matched on wording, the
// same markers the remote services put in their messages.
func ClassifyKind(err error) Kind {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Kind
	}
	if err == nil {
		return KindOther
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "exceeded"):
		return KindQuota
	case strings.Contains(msg, "not configured"),
		strings.Contains(msg, "credentials"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "401"):
		return KindConfiguration
	default:
		return KindOther
	}
}
