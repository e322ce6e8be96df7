package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

// Patterns for pulling line items out of recognized receipt text. A priced
// line ends in an amount with exactly two decimal digits; some recognizers
// emit a comma as the decimal separator.
var (
	pricePattern    = regexp.MustCompile(`\$?\s*(\d+[.,]\d{2})\s*$`)
	subtotalPattern = regexp.MustCompile(`(?i)sub\s*total|subtotal`)
	totalPattern    = regexp.MustCompile(`(?i)^total|grand\s*total|amount\s*due|balance`)
	quantityPrefix  = regexp.MustCompile(`^\d+\s*[xX]?\s*`)

	// Lines that are clearly not items: tax, tip, payment details, pleasantries.
	skipPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^tax`),
		regexp.MustCompile(`(?i)^tip`),
		regexp.MustCompile(`(?i)^gratuity`),
		regexp.MustCompile(`(?i)^discount`),
		regexp.MustCompile(`(?i)^payment`),
		regexp.MustCompile(`(?i)^change`),
		regexp.MustCompile(`(?i)^cash`),
		regexp.MustCompile(`(?i)^credit`),
		regexp.MustCompile(`(?i)^debit`),
		regexp.MustCompile(`(?i)^card`),
		regexp.MustCompile(`(?i)^visa`),
		regexp.MustCompile(`(?i)^mastercard`),
		regexp.MustCompile(`(?i)^amex`),
		regexp.MustCompile(`(?i)thank\s*you`),
	}
)

// ParseReceiptText converts raw recognized text into structured receipt data.
// One logical receipt line per text line. Lines that don't look like priced
// items are dropped silently; parsing never fails on a whole document because
// of one bad line. When no subtotal line was found but items were, the
// subtotal is set to the item sum.
func ParseReceiptText(text string) *ReceiptData {
	data := &ReceiptData{
		Items: []ReceiptItem{},
		Raw:   text,
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if isSkippable(line) {
			continue
		}

		loc := pricePattern.FindStringSubmatchIndex(line)
		if loc == nil {
			// No trailing price, likely a header or address line.
			continue
		}

		amount := strings.ReplaceAll(line[loc[2]:loc[3]], ",", ".")
		price, err := strconv.ParseFloat(amount, 64)
		if err != nil || price <= 0 {
			continue
		}

		name := strings.TrimSpace(line[:loc[0]])
		name = strings.TrimSpace(quantityPrefix.ReplaceAllString(name, ""))
		if name == "" {
			continue
		}

		switch {
		case subtotalPattern.MatchString(name):
			// Last match wins if the receipt repeats it.
			data.Subtotal = &price
		case totalPattern.MatchString(name):
			data.Total = &price
		default:
			data.Items = append(data.Items, ReceiptItem{Name: name, Price: price})
		}
	}

	data.fillSubtotal()
	return data
}

func isSkippable(line string) bool {
	for _, pattern := range skipPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
