package app

import (
	"strings"

	"github.com/samber/lo"

	"telemetry-rollup/config"
)

// RevenueClass labels the monetization source of an event
type RevenueClass string

const (
	RevenueClassIAP          RevenueClass = "iap"
	RevenueClassAd           RevenueClass = "ad"
	RevenueClassSubscription RevenueClass = "subscription"
	RevenueClassNone         RevenueClass = "none"
)

// Built-in keyword heuristics. An event name matches a class when it
// contains any of the class keywords as a substring (case-insensitive).
var (
	builtinIAPKeywords          = []string{"iap", "purchase", "buy", "inapp", "transaction"}
	builtinAdKeywords           = []string{"ad", "ads", "admon", "advertisement", "banner", "interstitial", "rewarded"}
	builtinSubscriptionKeywords = []string{"sub", "subscription", "recurring", "premium", "pro"}
)

// RevenueClassifier assigns revenue events to exactly one monetization
// class. Classification is strict: an event whose name matches more than one
// class is ambiguous and counts toward none of them, and an event without
// positive revenue is never classified as paid.
type RevenueClassifier struct {
	iap          []string
	ad           []string
	subscription []string
}

// NewRevenueClassifier builds a classifier from the built-in keyword sets
// unioned with any configured extensions.
func NewRevenueClassifier(cfg config.AggregationConfig) *RevenueClassifier {
	return &RevenueClassifier{
		iap:          mergeKeywords(builtinIAPKeywords, cfg.IAPKeywords),
		ad:           mergeKeywords(builtinAdKeywords, cfg.AdKeywords),
		subscription: mergeKeywords(builtinSubscriptionKeywords, cfg.SubscriptionKeywords),
	}
}

// Classify returns the revenue class for an event
func (c *RevenueClassifier) Classify(eventName string, revenue float64) RevenueClass {
	if revenue <= 0 {
		return RevenueClassNone
	}

	name := strings.ToLower(eventName)

	matched := make([]RevenueClass, 0, 3)
	if containsAny(name, c.iap) {
		matched = append(matched, RevenueClassIAP)
	}
	if containsAny(name, c.ad) {
		matched = append(matched, RevenueClassAd)
	}
	if containsAny(name, c.subscription) {
		matched = append(matched, RevenueClassSubscription)
	}

	// Ambiguous names stay unclassified rather than being double counted
	if len(matched) != 1 {
		return RevenueClassNone
	}
	return matched[0]
}

func containsAny(name string, keywords []string) bool {
	return lo.SomeBy(keywords, func(kw string) bool {
		return strings.Contains(name, kw)
	})
}

func mergeKeywords(builtin, extra []string) []string {
	merged := make([]string, 0, len(builtin)+len(extra))
	merged = append(merged, builtin...)
	for _, kw := range extra {
		merged = append(merged, strings.ToLower(strings.TrimSpace(kw)))
	}
	return lo.Uniq(lo.Filter(merged, func(kw string, _ int) bool { return kw != "" }))
}
