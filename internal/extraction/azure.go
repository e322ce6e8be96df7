package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	azureAPIVersion      = "2023-07-31"
	azureAnalyzePath     = "/formrecognizer/documentModels/prebuilt-receipt:analyze"
	defaultPollInterval  = time.Second
	defaultMaxPollCycles = 60
)

// Azure implements the Provider interface using the Azure Document
// Intelligence prebuilt-receipt model. The service segments line items,
// subtotal and total itself, so no local text parsing is needed. Analysis is
// asynchronous on the service side; ExtractReceipt submits the image and
// polls until the operation reaches a terminal state.
type Azure struct {
	endpoint     string
	key          string
	client       *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// NewAzure creates a new Azure provider. endpoint and key may be empty, in
// which case every extraction fails with a configuration error, letting a
// fallback chain skip straight to the next provider.
func NewAzure(endpoint, key string) (*Azure, error) {
	return &Azure{
		endpoint: strings.TrimSuffix(strings.TrimSpace(endpoint), "/"),
		key:      strings.TrimSpace(key),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPollCycles,
	}, nil
}

// Name identifies this provider in logs and error messages.
func (a *Azure) Name() string {
	return "azure-doc-intel"
}

// Configured reports whether endpoint and key are both present.
func (a *Azure) Configured() bool {
	return a.endpoint != "" && a.key != ""
}

// azureField is one field of an analyzed document. The service tags each
// field with a type and puts the value in the matching value* member.
type azureField struct {
	Type          string                `json:"type"`
	ValueString   string                `json:"valueString,omitempty"`
	ValueNumber   *float64              `json:"valueNumber,omitempty"`
	ValueCurrency *azureCurrency        `json:"valueCurrency,omitempty"`
	ValueArray    []azureField          `json:"valueArray,omitempty"`
	ValueObject   map[string]azureField `json:"valueObject,omitempty"`
}

type azureCurrency struct {
	Amount *float64 `json:"amount,omitempty"`
}

type azureDocument struct {
	Fields map[string]azureField `json:"fields"`
}

type azureAnalyzeResult struct {
	Content   string          `json:"content"`
	Documents []azureDocument `json:"documents"`
}

type azureOperation struct {
	Status        string              `json:"status"`
	AnalyzeResult *azureAnalyzeResult `json:"analyzeResult"`
	Error         *azureServiceError  `json:"error"`
}

type azureServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractReceipt submits the image for analysis and maps the completed
// result into receipt data.
func (a *Azure) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	if !a.Configured() {
		return nil, NewError(a.Name(), KindConfiguration, "azure document intelligence not configured", nil)
	}

	operationURL, err := a.submitAnalysis(ctx, image, contentType)
	if err != nil {
		return nil, err
	}

	result, err := a.pollUntilDone(ctx, operationURL)
	if err != nil {
		return nil, err
	}

	if result == nil || len(result.Documents) == 0 {
		return nil, NewError(a.Name(), KindNoData, "no receipt data found in image", nil)
	}

	return a.mapReceipt(result), nil
}

// submitAnalysis posts the image and returns the operation URL to poll.
func (a *Azure) submitAnalysis(ctx context.Context, image []byte, contentType string) (string, error) {
	url := fmt.Sprintf("%s%s?api-version=%s", a.endpoint, azureAnalyzePath, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return "", NewError(a.Name(), KindOther, "creating analyze request", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", NewError(a.Name(), KindOther, "calling analyze API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", a.statusError("analyze request", resp)
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", NewError(a.Name(), KindOther, "analyze response missing Operation-Location header", nil)
	}
	return operationURL, nil
}

// pollUntilDone polls the operation until it succeeds or fails. The number of
// cycles is bounded so a stuck operation becomes a failure instead of hanging
// the fallback chain.
func (a *Azure) pollUntilDone(ctx context.Context, operationURL string) (*azureAnalyzeResult, error) {
	for i := 0; i < a.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}

		op, err := a.fetchOperation(ctx, operationURL)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case "succeeded":
			return op.AnalyzeResult, nil
		case "failed":
			msg := "analysis failed"
			if op.Error != nil && op.Error.Message != "" {
				msg = op.Error.Message
			}
			return nil, NewError(a.Name(), ClassifyKind(fmt.Errorf("%s", msg)), msg, nil)
		case "notStarted", "running":
			// keep polling
		default:
			return nil, NewError(a.Name(), KindOther, fmt.Sprintf("unexpected operation status %q", op.Status), nil)
		}
	}
	return nil, NewError(a.Name(), KindOther, "analysis did not complete in time", nil)
}

func (a *Azure) fetchOperation(ctx context.Context, operationURL string) (*azureOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, NewError(a.Name(), KindOther, "creating poll request", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, NewError(a.Name(), KindOther, "polling analyze operation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError("poll request", resp)
	}

	var op azureOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, NewError(a.Name(), KindOther, "decoding operation response", err)
	}
	return &op, nil
}

// statusError converts a non-success HTTP response into a classified error.
// Rate limiting gets the quota kind, auth failures the configuration kind.
func (a *Azure) statusError(what string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s returned status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))

	kind := KindOther
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = KindQuota
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = KindConfiguration
	default:
		kind = ClassifyKind(fmt.Errorf("%s", msg))
	}
	return NewError(a.Name(), kind, msg, nil)
}

// mapReceipt converts the analyzed document fields into receipt data. Only
// items with both a non-empty description and a numeric price are emitted.
func (a *Azure) mapReceipt(result *azureAnalyzeResult) *ReceiptData {
	data := &ReceiptData{
		Items: []ReceiptItem{},
		Raw:   result.Content,
	}

	fields := result.Documents[0].Fields

	itemsField, ok := fields["Items"]
	if !ok {
		itemsField = fields["LineItems"]
	}
	for _, item := range itemsField.ValueArray {
		if item.ValueObject == nil {
			continue
		}
		description := strings.TrimSpace(item.ValueObject["Description"].ValueString)

		priceField, ok := item.ValueObject["TotalPrice"]
		if !ok {
			priceField = item.ValueObject["Price"]
		}
		price := priceField.amount()

		if description == "" || price == nil {
			continue
		}
		data.Items = append(data.Items, ReceiptItem{Name: description, Price: *price})
	}

	if subtotal, ok := fields["Subtotal"]; ok && subtotal.ValueCurrency != nil {
		data.Subtotal = subtotal.ValueCurrency.Amount
	}
	if total, ok := fields["Total"]; ok && total.ValueCurrency != nil {
		data.Total = total.ValueCurrency.Amount
	}

	data.fillSubtotal()
	return data
}

// amount returns the field's numeric value from either a currency or a plain
// number field.
func (f azureField) amount() *float64 {
	if f.ValueCurrency != nil && f.ValueCurrency.Amount != nil {
		return f.ValueCurrency.Amount
	}
	return f.ValueNumber
}

// Close closes the Azure provider (no-op for HTTP client).
func (a *Azure) Close() error {
	return nil
}

var _ Provider = (*Azure)(nil)
