// Package model holds the shared domain types that flow between the
// ingestion pipeline's components: Product, CompetitorTracker, ScrapeJob,
// PriceSignal, PricePoint, ScrapeOutcome, PricingRule and Recommendation.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the external catalog; the core only reads it.
type Product struct {
	ID           string
	Name         string
	SKU          string
	Category     string
	Cost         *decimal.Decimal
	CurrentPrice decimal.Decimal
	Stock        *int
	Active       bool
}

// TrackerStatus is the last observed outcome of a CompetitorTracker.
type TrackerStatus string

const (
	StatusNew              TrackerStatus = "NEW"
	StatusOK               TrackerStatus = "OK"
	StatusExtractionFailed TrackerStatus = "EXTRACTION_FAILED"
	StatusNetworkError     TrackerStatus = "NETWORK_ERROR"
	StatusBlocked          TrackerStatus = "BLOCKED"
	StatusDead             TrackerStatus = "DEAD"
)

// CompetitorTracker links a product to one canonical competitor URL.
type CompetitorTracker struct {
	ID              string
	ProductID       string
	CompetitorName  string
	RawURL          string
	CanonicalURL    string
	Active          bool
	LastPrice       *decimal.Decimal
	LastCurrency    string
	LastCheckedAt   *time.Time
	LastStatus      TrackerStatus
	FailureStreak   int
	IntervalOverride *time.Duration
	Version         int64 // optimistic concurrency token, bumped on every update
}

// JobOrigin records why a ScrapeJob was created.
type JobOrigin string

const (
	OriginScheduled JobOrigin = "SCHEDULED"
	OriginManual    JobOrigin = "MANUAL"
	OriginRetry     JobOrigin = "RETRY"
)

// ScrapeJob is one unit of work for the Worker Pool.
type ScrapeJob struct {
	ID                   string
	TrackerID            string
	ProductID            string
	CompetitorName       string
	URL                  string
	AllowBrowserFallback bool
	Attempt              int
	MaxAttempts          int
	EnqueuedAt           time.Time
	NotBefore            *time.Time
	Origin               JobOrigin
}

// ExtractedFrom records which fetch tier produced a PriceSignal.
type ExtractedFrom string

const (
	FromHTTP    ExtractedFrom = "HTTP"
	FromBrowser ExtractedFrom = "BROWSER"
)

// PriceSignal is the transient output of a Price Extractor.
type PriceSignal struct {
	Price        decimal.Decimal
	Currency     string
	Title        string
	InStock      *bool
	ExtractedFrom ExtractedFrom
	AdapterID    string
	Confidence   float64
}

// PricePoint is one immutable, persisted price observation.
type PricePoint struct {
	ID             string
	ProductID      string
	TrackerID      string
	CompetitorName string
	Price          decimal.Decimal
	Currency       string
	CapturedAt     time.Time
	Source         ExtractedFrom
	AdapterID      string
}

// OutcomeKind enumerates the reasons a scrape can fail, per spec §3/§7.
type OutcomeKind string

const (
	KindSuccess      OutcomeKind = "SUCCESS"
	KindTimeout      OutcomeKind = "TIMEOUT"
	KindHTTPStatus   OutcomeKind = "HTTP_STATUS"
	KindParseMiss    OutcomeKind = "PARSE_MISS"
	KindRobotsDeny   OutcomeKind = "ROBOTS_DENY"
	KindRateLimited  OutcomeKind = "RATE_LIMITED"
	KindBrowserError OutcomeKind = "BROWSER_ERROR"
	KindDomainBlocked OutcomeKind = "DOMAIN_BLOCKED"
	KindInvalidURL   OutcomeKind = "INVALID_URL"
	KindNetworkError OutcomeKind = "NETWORK_ERROR"
	KindBlocked      OutcomeKind = "BLOCKED"
)

// ScrapeOutcome is the tagged-variant result of one Scrape Executor run.
// Exactly one of Signal (on KindSuccess) or Detail is meaningful.
type ScrapeOutcome struct {
	Kind   OutcomeKind
	Signal PriceSignal
	Detail string
	Hard   bool // true => HardFail, false => SoftFail (ignored when Kind == KindSuccess)
}

func (o ScrapeOutcome) Success() bool { return o.Kind == KindSuccess }

// Retryable reports whether this outcome should ever be retried, per spec
// §4.4 step 5. DOMAIN_BLOCKED and INVALID_URL are never retried.
func (o ScrapeOutcome) Retryable() bool {
	switch o.Kind {
	case KindDomainBlocked, KindInvalidURL:
		return false
	case KindTimeout, KindNetworkError, KindRateLimited, KindBrowserError:
		return true
	case KindParseMiss, KindHTTPStatus, KindBlocked:
		return true // retried a bounded number of times, see queue.RetryPolicy
	default:
		return false
	}
}

// RuleType enumerates the pricing strategies the Rule Engine can apply.
type RuleType string

const (
	RuleFixed       RuleType = "FIXED"
	RuleCompetitive RuleType = "COMPETITIVE"
	RuleDynamic     RuleType = "DYNAMIC"
	RuleClearance   RuleType = "CLEARANCE"
)

// RuleStatus is whether a PricingRule is eligible to fire.
type RuleStatus string

const (
	RuleActive   RuleStatus = "ACTIVE"
	RuleInactive RuleStatus = "INACTIVE"
)

// PricingRule is one matchable, orderable pricing policy.
type PricingRule struct {
	ID             string
	Name           string
	Type           RuleType
	Category       string // matches Product.Category when ProductID is empty
	ProductID      string // takes precedence over Category when set
	AdjustmentPct  decimal.Decimal
	Status         RuleStatus
	Priority       int
}

// Matches reports whether the rule applies to the given product, per the
// precedence in spec §4.11: product_id, else category, else match-all.
func (r PricingRule) Matches(p Product) bool {
	if r.ProductID != "" {
		return r.ProductID == p.ID
	}
	if r.Category != "" {
		return r.Category == p.Category
	}
	return true
}

// Recommendation is the deterministic, auditable output of the Rule Engine.
type Recommendation struct {
	ProductID      string
	CurrentPrice   decimal.Decimal
	SuggestedPrice decimal.Decimal
	Reason         string
	RuleID         string
	ComputedAt     time.Time
}
