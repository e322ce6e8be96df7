package extraction

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback tries a fixed, ordered chain of providers until one succeeds. It
// implements the Provider interface itself, so chains can be nested or
// swapped in wherever a single provider is expected. Each extraction call is
// an independent linear scan; no state is shared between calls.
type Fallback struct {
	providers []Provider
}

// NewFallback creates a fallback chain over the given providers, tried in
// order. At least one provider is required.
func NewFallback(providers ...Provider) (*Fallback, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("fallback chain requires at least one provider")
	}
	return &Fallback{providers: providers}, nil
}

// Name identifies this provider in logs and error messages.
func (f *Fallback) Name() string {
	return "fallback"
}

// ExtractReceipt attempts each provider in order, returning the first
// success. A provider failure is classified for the log and the chain moves
// on; only when every provider has failed does an aggregate error come back,
// carrying the last provider's failure message. Explicit cancellation stops
// the chain instead of falling through.
func (f *Fallback) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	var lastErr error

	for _, provider := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Info("Attempting extraction", "provider", provider.Name())
		data, err := provider.ExtractReceipt(ctx, image, contentType)
		if err == nil {
			slog.Info("Extraction succeeded", "provider", provider.Name())
			return data, nil
		}

		// Cancellation is the caller's decision, not a provider failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		kind := ClassifyKind(err)
		slog.Warn("Extraction failed, trying next provider",
			"provider", provider.Name(),
			"kind", kind.String(),
			"error", err,
		)
		lastErr = err
	}

	return nil, &AllProvidersError{LastErr: lastErr}
}

// Close closes every provider in the chain, returning the first error seen.
func (f *Fallback) Close() error {
	var firstErr error
	for _, provider := range f.providers {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Provider = (*Fallback)(nil)
