package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// maxPrice bounds valid extracted prices per spec.md §4.2: "a value outside
// (0, 10_000_000] is treated as PARSE_MISS".
var maxPrice = decimal.NewFromInt(10_000_000)

// currencySymbols maps a small fixed set of symbols to ISO-4217 codes. A
// generic adapter's default currency is used when none of these match.
var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

var numberPattern = regexp.MustCompile(`[0-9][0-9.,\s]*[0-9]|[0-9]`)

// NormalizePrice parses a raw, locale-formatted price string (e.g. "€19,90",
// "$1,299.00", "1.234,56 EUR") into a two-decimal-scaled amount and best-guess
// currency. ok is false when no usable number is found or it falls outside
// the valid range, signaling a PARSE_MISS to the caller.
func NormalizePrice(raw, defaultCurrency string) (amount decimal.Decimal, currency string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, "", false
	}

	currency = detectCurrency(trimmed, defaultCurrency)

	numStr := numberPattern.FindString(trimmed)
	if numStr == "" {
		return decimal.Zero, "", false
	}

	normalized := normalizeNumberLiteral(numStr)
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, "", false
	}
	amount = amount.Round(2)

	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(maxPrice) {
		return decimal.Zero, "", false
	}
	return amount, currency, true
}

func detectCurrency(s, defaultCurrency string) string {
	for sym, code := range currencySymbols {
		if strings.Contains(s, sym) {
			return code
		}
	}
	upper := strings.ToUpper(s)
	for _, code := range []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF"} {
		if strings.Contains(upper, code) {
			return code
		}
	}
	if defaultCurrency != "" {
		return defaultCurrency
	}
	return "USD"
}

// normalizeNumberLiteral disambiguates thousands separators from decimal
// separators across US (1,299.00), EU (1.234,56) and space-grouped
// (1 234,56) conventions, returning a plain "1234.56"-style literal.
//
// When both a comma and a dot are present, whichever comes last is the
// decimal separator. When only one kind is present, more than one instance
// of it is always a thousands grouping ("50,000,000"); a single instance
// is treated as a decimal separator unless exactly three digits follow it,
// which is instead a thousands group ("50.000" -> "50000"), since web
// prices are not quoted to three fractional digits.
func normalizeNumberLiteral(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	commaCount := strings.Count(s, ",")
	dotCount := strings.Count(s, ".")

	switch {
	case commaCount == 0 && dotCount == 0:
		return s
	case commaCount > 0 && dotCount > 0:
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		if lastComma > lastDot {
			intPart := strings.ReplaceAll(s[:lastComma], ".", "")
			fracPart := s[lastComma+1:]
			return intPart + "." + fracPart
		}
		intPart := strings.ReplaceAll(s[:lastDot], ",", "")
		fracPart := s[lastDot+1:]
		return intPart + "." + fracPart
	case commaCount > 0:
		if commaCount > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		idx := strings.Index(s, ",")
		frac := s[idx+1:]
		if len(frac) == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return s[:idx] + "." + frac
	default:
		if dotCount > 1 {
			return strings.ReplaceAll(s, ".", "")
		}
		idx := strings.Index(s, ".")
		frac := s[idx+1:]
		if len(frac) == 3 {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	}
}

// ParseInt is a tiny helper used by adapters that extract integer stock
// counts from page markup.
func ParseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
