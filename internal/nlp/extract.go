package nlp

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MreRes/financial-bot/internal/models"
)

// currency markers stripped before numeric parsing
var currencyMarkers = []string{"rp.", "rp", "idr", "usd", "$", "€"}

// ParseAmount turns a free-text amount ("Rp50.000", "1,500,000", "25000")
// into minor currency units. It strips currency symbols and thousands
// separators and fails closed on anything non-numeric.
func ParseAmount(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, marker := range currencyMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", models.ErrValidation)
	}

	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not numeric", models.ErrValidation, raw)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: amount %q is negative", models.ErrValidation, raw)
	}
	return d.Round(0).IntPart(), nil
}

// normalizeSeparators reduces mixed "." / "," usage to a plain decimal
// number. When both appear the later one is the decimal mark; a lone
// separator followed by exactly three digits is grouping.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		if isGrouping(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if isGrouping(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

func isGrouping(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts) < 2 || parts[0] == "" {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// looksNumeric reports whether a token is plausibly an amount once currency
// markers are stripped.
func looksNumeric(token string) bool {
	s := strings.ToLower(token)
	for _, marker := range currencyMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	if s == "" {
		return false
	}
	for _, ch := range s {
		if (ch < '0' || ch > '9') && ch != '.' && ch != ',' {
			return false
		}
	}
	return true
}

// ExtractEntities pulls amount and category entities out of a message. The
// consumed words (the matched intent phrase) are skipped; the first numeric
// token becomes the amount, the leftover words the category. Pure function,
// independent of any classifier backend.
func ExtractEntities(text string, consumed ...string) map[string]string {
	skip := make(map[string]bool, len(consumed))
	for _, w := range consumed {
		for _, part := range strings.Fields(strings.ToLower(w)) {
			skip[part] = true
		}
	}

	entities := make(map[string]string)
	var leftover []string
	for _, token := range strings.Fields(text) {
		lower := strings.ToLower(token)
		if skip[lower] {
			continue
		}
		if _, ok := entities["amount"]; !ok && looksNumeric(lower) {
			entities["amount"] = token
			continue
		}
		leftover = append(leftover, lower)
	}
	if len(leftover) > 0 {
		entities["category"] = strings.Join(leftover, " ")
		entities["item"] = leftover[0]
	}
	return entities
}
