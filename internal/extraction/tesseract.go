package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Provider interface with local OCR. Recognition
// runs on-device and can take a few seconds per image; the recognized text is
// handed to ParseReceiptText for structuring.
type Tesseract struct {
	language string
}

// NewTesseract creates a new Tesseract provider. language is a Tesseract
// language code; the corresponding language data must be installed.
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

// Name identifies this provider in logs and error messages.
func (t *Tesseract) Name() string {
	return "tesseract"
}

// ExtractReceipt runs OCR against the image and parses the recognized text.
func (t *Tesseract) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	pngData, err := prepareImageData(image, contentType)
	if err != nil {
		return nil, NewError(t.Name(), KindOther, "preparing image", err)
	}

	enhanced, err := enhanceForOCR(pngData)
	if err != nil {
		// Recognition still works on the unenhanced image, just less reliably.
		slog.Warn("Image enhancement failed, using original", "error", err)
		enhanced = pngData
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, NewError(t.Name(), KindOther, "setting language", err)
	}
	if err := client.SetImageFromBytes(enhanced); err != nil {
		return nil, NewError(t.Name(), KindOther, "setting image", err)
	}

	start := time.Now()
	text, err := client.Text()
	if err != nil {
		return nil, NewError(t.Name(), KindOther, "recognizing text", err)
	}
	slog.Debug("OCR recognition finished", "duration", time.Since(start), "chars", len(text))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ParseReceiptText(text), nil
}

// Close releases provider resources. The gosseract client is per-call, so
// there is nothing to release here.
func (t *Tesseract) Close() error {
	return nil
}

var _ Provider = (*Tesseract)(nil)
