// Package rules implements the Rule Engine (spec.md §4.11): deterministic,
// auditable price recommendations from a product, its matchable rules and
// a recent competitor-price window. Grounded on the teacher's
// pricing_service/src/RulesEngine.go (decimal-based pricing arithmetic,
// bounds enforcement) generalized from fare rules to competitor-tracking
// rules.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/iaros/pricewatch/internal/model"
)

const (
	defaultMaxChangePct = 20
)

var (
	hundred  = decimal.NewFromInt(100)
	oneCent  = decimal.NewFromFloat(0.01)
	one      = decimal.NewFromInt(1)
)

// Config holds the Rule Engine's deployment-wide defaults, all
// overridable per spec.md §4.11.
type Config struct {
	MaxChangePct      decimal.Decimal // ceiling/floor bound width, default 20
	MinMarginPct      decimal.Decimal // floor above cost, default 0
	CompetitiveWeight decimal.Decimal // w_c for DYNAMIC, default 0.6
	OwnWeight         decimal.Decimal // w_m for DYNAMIC, default 0.4
	CacheTTL          time.Duration   // recommendation memoization TTL, default 1m
}

// DefaultConfig matches the numeric defaults spec.md §4.11 names.
func DefaultConfig() Config {
	return Config{
		MaxChangePct:      decimal.NewFromInt(defaultMaxChangePct),
		MinMarginPct:      decimal.Zero,
		CompetitiveWeight: decimal.NewFromFloat(0.6),
		OwnWeight:         decimal.NewFromFloat(0.4),
		CacheTTL:          time.Minute,
	}
}

// Engine computes Recommendations, memoizing identical (product, rules,
// history) inputs in a short-TTL process-local cache — an in-process
// complement to the heavier store/queue round trips this avoids.
type Engine struct {
	cfg   Config
	cache *gocache.Cache
}

func New(cfg Config) *Engine {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Engine{cfg: cfg, cache: gocache.New(ttl, 2*ttl)}
}

// Recommend applies spec.md §4.11's algorithm: sort rules by (priority
// desc, id asc), apply the first matching ACTIVE rule, clamp and round
// the result.
func (e *Engine) Recommend(product model.Product, rules []model.PricingRule, history []model.PricePoint) model.Recommendation {
	key := cacheKey(product, rules, history)
	if cached, ok := e.cache.Get(key); ok {
		return cached.(model.Recommendation)
	}
	rec := e.recommend(product, rules, history)
	e.cache.SetDefault(key, rec)
	return rec
}

func (e *Engine) recommend(product model.Product, rules []model.PricingRule, history []model.PricePoint) model.Recommendation {
	avgComp, compCount, hasComp := averageLatestPerTracker(history)
	now := time.Now().UTC()

	for _, r := range sortRules(rules) {
		if r.Status == model.RuleActive && r.Matches(product) {
			return e.apply(r, product, avgComp, compCount, hasComp, now)
		}
	}

	return model.Recommendation{
		ProductID:      product.ID,
		CurrentPrice:   product.CurrentPrice,
		SuggestedPrice: product.CurrentPrice,
		Reason:         "no matching active rule",
		ComputedAt:     now,
	}
}

func (e *Engine) apply(r model.PricingRule, p model.Product, avgComp decimal.Decimal, compCount int, hasComp bool, now time.Time) model.Recommendation {
	base := model.Recommendation{
		ProductID:    p.ID,
		CurrentPrice: p.CurrentPrice,
		RuleID:       r.ID,
		ComputedAt:   now,
	}

	switch r.Type {
	case model.RuleFixed, model.RuleClearance:
		suggested := applyPct(p.CurrentPrice, r.AdjustmentPct)
		return e.finish(base, suggested, p, r, compCount, avgComp, hasComp)

	case model.RuleCompetitive:
		if !hasComp {
			base.SuggestedPrice = p.CurrentPrice
			base.Reason = "no competitor data"
			return base
		}
		suggested := applyPct(avgComp, r.AdjustmentPct)
		return e.finish(base, suggested, p, r, compCount, avgComp, hasComp)

	case model.RuleDynamic:
		if !hasComp {
			base.SuggestedPrice = p.CurrentPrice
			base.Reason = "no competitor data"
			return base
		}
		blended := avgComp.Mul(e.cfg.CompetitiveWeight).Add(p.CurrentPrice.Mul(e.cfg.OwnWeight))
		return e.finish(base, blended, p, r, compCount, avgComp, hasComp)

	default:
		base.SuggestedPrice = p.CurrentPrice
		base.Reason = fmt.Sprintf("unrecognized rule type %q", r.Type)
		return base
	}
}

// finish clamps suggested into the bounds spec.md §4.11 names, rounds it
// with banker's rounding, and records a human-readable reason.
func (e *Engine) finish(base model.Recommendation, suggested decimal.Decimal, p model.Product, r model.PricingRule, compCount int, avgComp decimal.Decimal, hasComp bool) model.Recommendation {
	clamped, clampApplied := e.clamp(suggested, p)
	base.SuggestedPrice = clamped.RoundBank(2)
	base.Reason = reasonFor(r, compCount, avgComp, hasComp, clampApplied)
	return base
}

// clamp enforces spec.md §4.11's bounds: a floor of max(0.01,
// cost*(1+min_margin_pct/100), current_price*(1-max_change_pct/100)), and
// a ceiling of current_price*(1+max_change_pct/100).
func (e *Engine) clamp(suggested decimal.Decimal, p model.Product) (decimal.Decimal, bool) {
	maxChangeFrac := e.cfg.MaxChangePct.Div(hundred)

	floor := oneCent
	if p.Cost != nil {
		marginFrac := e.cfg.MinMarginPct.Div(hundred)
		marginFloor := p.Cost.Mul(one.Add(marginFrac))
		if marginFloor.GreaterThan(floor) {
			floor = marginFloor
		}
	}
	maxDownBound := p.CurrentPrice.Mul(one.Sub(maxChangeFrac))
	if maxDownBound.GreaterThan(floor) {
		floor = maxDownBound
	}
	ceiling := p.CurrentPrice.Mul(one.Add(maxChangeFrac))

	clamped := suggested
	applied := false
	if clamped.LessThan(floor) {
		clamped = floor
		applied = true
	}
	if clamped.GreaterThan(ceiling) {
		clamped = ceiling
		applied = true
	}
	return clamped, applied
}

func applyPct(base decimal.Decimal, adjustmentPct decimal.Decimal) decimal.Decimal {
	return base.Mul(one.Add(adjustmentPct.Div(hundred)))
}

func reasonFor(r model.PricingRule, compCount int, avgComp decimal.Decimal, hasComp bool, clampApplied bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s rule %q fired", r.Type, r.ID)
	if hasComp {
		fmt.Fprintf(&b, "; %d competitor price(s), avg %s", compCount, avgComp.StringFixed(2))
	}
	if clampApplied {
		b.WriteString("; suggested price clamped to bounds")
	}
	return b.String()
}

// sortRules orders by (priority desc, id asc), per spec.md §4.11, without
// mutating the caller's slice.
func sortRules(rules []model.PricingRule) []model.PricingRule {
	out := make([]model.PricingRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// averageLatestPerTracker computes avg_comp: the arithmetic mean of the
// most recent PricePoint per tracker within the supplied window.
func averageLatestPerTracker(history []model.PricePoint) (avg decimal.Decimal, count int, ok bool) {
	latest := make(map[string]model.PricePoint, len(history))
	for _, pt := range history {
		cur, exists := latest[pt.TrackerID]
		if !exists || pt.CapturedAt.After(cur.CapturedAt) {
			latest[pt.TrackerID] = pt
		}
	}
	if len(latest) == 0 {
		return decimal.Zero, 0, false
	}
	sum := decimal.Zero
	for _, pt := range latest {
		sum = sum.Add(pt.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(latest)))), len(latest), true
}

// cacheKey fingerprints the inputs that can change a recommendation, so
// the memoization cache never returns a stale result for changed inputs.
func cacheKey(p model.Product, rules []model.PricingRule, history []model.PricePoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%d", p.ID, p.Category, p.CurrentPrice.String(), len(rules))
	if p.Cost != nil {
		fmt.Fprintf(&b, "|cost:%s", p.Cost.String())
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "|%s:%d:%s:%s:%s:%s:%s", r.ID, r.Priority, r.Status, r.Type, r.AdjustmentPct.String(), r.ProductID, r.Category)
	}
	fmt.Fprintf(&b, "|%d", len(history))
	for _, pt := range history {
		fmt.Fprintf(&b, "|%s:%s:%d", pt.TrackerID, pt.Price.String(), pt.CapturedAt.UnixNano())
	}
	return b.String()
}
