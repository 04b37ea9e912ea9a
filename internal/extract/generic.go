package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"github.com/iaros/pricewatch/internal/model"
)

// GenericAdapter is the fallback used when no per-domain adapter claims a
// host (spec.md §4.2). It tries three extraction tiers in order of
// confidence, matching the 1.0 / 0.7 / 0.4 tiers named in the spec:
//  1. JSON-LD / schema.org Product structured data        -> confidence 1.0
//  2. itemprop="price" microdata and og:price meta tags     -> confidence 0.7
//  3. a currency-prefixed regex heuristic over visible text -> confidence 0.4
type GenericAdapter struct {
	DefaultCurrency string
}

// NewGenericAdapter builds the fallback adapter. defaultCurrency is used
// when no currency marker can be found in the page.
func NewGenericAdapter(defaultCurrency string) *GenericAdapter {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &GenericAdapter{DefaultCurrency: defaultCurrency}
}

func (a *GenericAdapter) ID() string { return "generic" }

// Claims always returns false; Registry never calls Claims on the generic
// adapter, it is used only when nothing else claims.
func (a *GenericAdapter) Claims(host string) bool { return false }

func (a *GenericAdapter) Extract(page Page) Outcome {
	doc, err := html.Parse(strings.NewReader(string(page.Body)))
	if err != nil {
		return Outcome{ParseMiss: true, Detail: "unparseable html: " + err.Error()}
	}

	if signal, ok := a.extractJSONLD(doc); ok {
		return Outcome{Signal: signal}
	}
	if signal, ok := a.extractMicrodata(doc); ok {
		return Outcome{Signal: signal}
	}
	if signal, ok := a.extractHeuristic(doc); ok {
		return Outcome{Signal: signal}
	}
	return Outcome{ParseMiss: true, Detail: "no price found by any generic extraction tier"}
}

// --- tier 1: JSON-LD structured data, confidence 1.0 ---

type jsonLDOffer struct {
	Price         json.Number `json:"price"`
	PriceCurrency string      `json:"priceCurrency"`
}

type jsonLDProduct struct {
	Type  string      `json:"@type"`
	Offer jsonLDOffer `json:"offers"`
}

func (a *GenericAdapter) extractJSONLD(doc *html.Node) (model.PriceSignal, bool) {
	var found model.PriceSignal
	var ok bool

	forEachElement(doc, "script", func(n *html.Node) bool {
		if attr(n, "type") != "application/ld+json" {
			return true
		}
		text := textContent(n)

		var prod jsonLDProduct
		if err := json.Unmarshal([]byte(text), &prod); err == nil && prod.Offer.Price.String() != "" {
			if price, currency, normOK := NormalizePrice(prod.Offer.Price.String(), firstNonEmpty(prod.Offer.PriceCurrency, a.DefaultCurrency)); normOK {
				found = model.PriceSignal{Price: price, Currency: currency, Confidence: 1.0, AdapterID: a.ID()}
				ok = true
				return false
			}
		}

		// Some sites emit an array of nodes or nest offers under @graph;
		// fall back to a looser scan for a "price" field in the raw text.
		if price, currency, normOK := scanRawPriceField(text, a.DefaultCurrency); normOK {
			found = model.PriceSignal{Price: price, Currency: currency, Confidence: 1.0, AdapterID: a.ID()}
			ok = true
			return false
		}
		return true
	})

	return found, ok
}

var rawPriceFieldPattern = regexp.MustCompile(`"price"\s*:\s*"?([0-9]+(?:[.,][0-9]+)?)"?`)
var rawCurrencyFieldPattern = regexp.MustCompile(`"priceCurrency"\s*:\s*"([A-Z]{3})"`)

func scanRawPriceField(text, defaultCurrency string) (price decimal.Decimal, currency string, ok bool) {
	m := rawPriceFieldPattern.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, "", false
	}
	currency = defaultCurrency
	if cm := rawCurrencyFieldPattern.FindStringSubmatch(text); cm != nil {
		currency = cm[1]
	}
	return NormalizePrice(m[1], currency)
}

// --- tier 2: microdata / meta tags, confidence 0.7 ---

func (a *GenericAdapter) extractMicrodata(doc *html.Node) (model.PriceSignal, bool) {
	var priceText, currencyText string

	forEachElement(doc, "meta", func(n *html.Node) bool {
		switch attr(n, "property") {
		case "product:price:amount", "og:price:amount":
			priceText = attr(n, "content")
		case "product:price:currency", "og:price:currency":
			currencyText = attr(n, "content")
		}
		switch attr(n, "itemprop") {
		case "price":
			if priceText == "" {
				priceText = attr(n, "content")
			}
		case "priceCurrency":
			if currencyText == "" {
				currencyText = attr(n, "content")
			}
		}
		return priceText == "" || currencyText == ""
	})

	if priceText == "" {
		forEachElement(doc, "span", func(n *html.Node) bool {
			if attr(n, "itemprop") == "price" {
				priceText = firstNonEmpty(attr(n, "content"), textContent(n))
				return false
			}
			return true
		})
	}

	if priceText == "" {
		return model.PriceSignal{}, false
	}

	price, currency, ok := NormalizePrice(priceText, firstNonEmpty(currencyText, a.DefaultCurrency))
	if !ok {
		return model.PriceSignal{}, false
	}
	return model.PriceSignal{Price: price, Currency: currency, Confidence: 0.7, AdapterID: a.ID()}, true
}

// --- tier 3: currency-prefixed regex heuristic over visible text, confidence 0.4 ---

var heuristicPricePattern = regexp.MustCompile(`[$€£¥]\s?[0-9][0-9.,\s]*[0-9]|\b[0-9][0-9.,\s]*[0-9]\s?(?:USD|EUR|GBP|JPY)\b`)

func (a *GenericAdapter) extractHeuristic(doc *html.Node) (model.PriceSignal, bool) {
	text := visibleText(doc)
	match := heuristicPricePattern.FindString(text)
	if match == "" {
		return model.PriceSignal{}, false
	}
	price, currency, ok := NormalizePrice(match, a.DefaultCurrency)
	if !ok {
		return model.PriceSignal{}, false
	}
	return model.PriceSignal{Price: price, Currency: currency, Confidence: 0.4, AdapterID: a.ID()}, true
}

// --- shared html.Node helpers ---

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// visibleText concatenates text nodes outside <script>/<style>, capped to
// keep the heuristic regex off megabytes of markup on pathological pages.
func visibleText(doc *html.Node) string {
	const limit = 64 * 1024
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if b.Len() >= limit {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}

// forEachElement visits every element node named tag in document order;
// visit returning false stops the traversal early.
func forEachElement(doc *html.Node, tag string, visit func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			if !visit(n) {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
