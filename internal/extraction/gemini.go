package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// receiptItemsPrompt asks the vision model for the structured fields the rest
// of the pipeline expects.
const receiptItemsPrompt = `You are analyzing a photographed paper receipt. Carefully read all text in the image and extract:

1. **Line items**: every purchased product or service with its price. Use the printed item name and the line's total price in dollars and cents. Do NOT include tax, tip, gratuity, discounts, payment or change lines as items.

2. **Subtotal**: the sum of line items before tax and tip, if the receipt states one.

3. **Total**: the final amount charged, if the receipt states one.

Return ONLY valid JSON in this exact format:
{
  "items": [{"name": "Item name", "price": 0.00}],
  "subtotal": 0.00,
  "total": 0.00
}

Important:
- Prices must be numbers (not strings), representing dollars and cents
- If you cannot find subtotal or total, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Provider interface using Google Gemini vision.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini provider.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Name identifies this provider in logs and error messages.
func (g *Gemini) Name() string {
	return "gemini"
}

// ExtractReceipt analyzes a receipt image and extracts its line items.
func (g *Gemini) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	pngData, err := prepareImageData(image, contentType)
	if err != nil {
		return nil, NewError(g.Name(), KindOther, "preparing image", err)
	}

	// genai.ImageData expects just the format suffix, and after
	// prepareImageData everything is PNG.
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(receiptItemsPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, NewError(g.Name(), ClassifyKind(err), "generating content", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, NewError(g.Name(), KindNoData, "no response from gemini", nil)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseReceiptItemsJSON(responseText.String())
	if err != nil {
		return nil, NewError(g.Name(), KindOther, "parsing receipt data", err)
	}

	return data, nil
}

// geminiReceipt mirrors the JSON shape the prompt requests.
type geminiReceipt struct {
	Items []struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	} `json:"items"`
	Subtotal *float64 `json:"subtotal"`
	Total    *float64 `json:"total"`
}

// parseReceiptItemsJSON parses the model's JSON response, tolerating markdown
// code fences and surrounding prose.
func parseReceiptItemsJSON(text string) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var parsed geminiReceipt
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{
		Items:    []ReceiptItem{},
		Subtotal: parsed.Subtotal,
		Total:    parsed.Total,
	}
	for _, item := range parsed.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Price <= 0 {
			continue
		}
		data.Items = append(data.Items, ReceiptItem{Name: name, Price: item.Price})
	}

	data.fillSubtotal()
	return data, nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

var _ Provider = (*Gemini)(nil)
