package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Remote implements the Provider interface against an extraction service
// over HTTP: the image is uploaded as multipart form data and the service
// responds with receipt data JSON, or an error payload whose optional
// fallback flag signals that another provider is worth trying.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a new Remote provider pointing at url, typically the
// /api/ocr endpoint of a billsplit server.
func NewRemote(url string) (*Remote, error) {
	if url == "" {
		return nil, fmt.Errorf("remote extraction url is required")
	}
	return &Remote{
		url: url,
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
	}, nil
}

// Name identifies this provider in logs and error messages.
func (r *Remote) Name() string {
	return "remote"
}

// remoteError is the error payload the service returns on failure.
type remoteError struct {
	Error    string `json:"error"`
	Fallback bool   `json:"fallback"`
}

// ExtractReceipt uploads the image and decodes the service's response.
func (r *Remote) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="receipt"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, NewError(r.Name(), KindOther, "building multipart body", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, NewError(r.Name(), KindOther, "writing image data", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewError(r.Name(), KindOther, "finalizing multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return nil, NewError(r.Name(), KindOther, "creating request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, NewError(r.Name(), KindOther, "calling extraction service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.responseError(resp)
	}

	var data ReceiptData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, NewError(r.Name(), KindOther, "decoding response", err)
	}
	if data.Items == nil {
		data.Items = []ReceiptItem{}
	}
	return &data, nil
}

// responseError maps the service's status codes onto the error taxonomy:
// 503 means the service isn't configured, 429 quota, 422 nothing recognized.
func (r *Remote) responseError(resp *http.Response) error {
	var payload remoteError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = fmt.Sprintf("extraction service returned status %d", resp.StatusCode)
	}

	var kind Kind
	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		kind = KindConfiguration
	case http.StatusTooManyRequests:
		kind = KindQuota
	case http.StatusUnprocessableEntity:
		kind = KindNoData
	default:
		kind = ClassifyKind(fmt.Errorf("%s", payload.Error))
	}
	return NewError(r.Name(), kind, payload.Error, nil)
}

// Close closes the Remote provider (no-op for HTTP client).
func (r *Remote) Close() error {
	return nil
}

var _ Provider = (*Remote)(nil)
