// Package classify scores harvested records against the configured scoring
// rules and assigns each one a priority tier. Two interchangeable strategies
// exist; which one runs is a configuration choice.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// Scorer assigns a category and score to a record given the current rules.
// Implementations must be deterministic for a fixed record + rule set.
type Scorer interface {
	Score(rec tracker.Record, rules []tracker.ScoringRule) (tracker.Category, int)
}

// Strategy names accepted in configuration.
const (
	StrategyWeighted = "weighted"
	StrategyBands    = "bands"
)

// NewScorer returns the scorer for the named strategy.
func NewScorer(strategy string) (Scorer, error) {
	switch strategy {
	case StrategyWeighted, "":
		return &WeightedScorer{}, nil
	case StrategyBands:
		return &BandScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown classifier strategy %q", strategy)
	}
}

// Weighted multi-factor point values.
const (
	pointsAmount   = 40
	pointsReceived = 20
	pointsApproved = 20
	pointsKeyword  = 10

	// Category-specific bonuses.
	strongVeryHighAmount  = 2_000_000
	strongVeryHighBonus   = 10
	strongNewBuildBonus   = 15
	weakMidBandLow        = 250_000
	weakMidBandHigh       = 1_000_000
	weakMidBandBonus      = 5
	watchPendingBonus     = 10
	minimumRetainingScore = 30
)

// newConstructionKeywords trigger the top-tier build bonus regardless of the
// rule's own keyword list.
var newConstructionKeywords = []string{"new construction", "new building", "new campus"}

// WeightedScorer accumulates points per rule and keeps the best-scoring one.
// Ties go to the higher tier. A best score below 30 demotes the record to the
// lowest tier while retaining the numeric score.
type WeightedScorer struct{}

// Score implements Scorer.
func (s *WeightedScorer) Score(rec tracker.Record, rules []tracker.ScoringRule) (tracker.Category, int) {
	amount, hasAmount := rec.EstimatedAmount()
	received, hasReceived := rec.ReceivedDate()
	approved, hasApproved := rec.ApprovedDate()
	text := searchText(rec)

	bestCategory := tracker.CategoryIgnored
	bestScore := -1

	for _, tier := range tracker.Categories {
		rule, ok := ruleFor(rules, tier)
		if !ok {
			continue
		}
		score := 0
		if hasAmount && rule.MinAmount > 0 && amount >= float64(rule.MinAmount) {
			score += pointsAmount
		}
		if hasReceived && !rule.ReceivedAfter.IsZero() && !received.Before(rule.ReceivedAfter) {
			score += pointsReceived
		}
		if hasApproved && !rule.ApprovedAfter.IsZero() && !approved.Before(rule.ApprovedAfter) {
			score += pointsApproved
		}
		if matchesAnyKeyword(text, rule.Keywords) {
			score += pointsKeyword
		}
		score += s.tierBonus(tier, amount, hasAmount, hasReceived, hasApproved, text)

		// Strictly-greater keeps ties on the higher tier, which Categories
		// iterates first.
		if score > bestScore {
			bestScore = score
			bestCategory = rule.Category
		}
	}

	if bestScore < 0 {
		bestScore = 0
	}
	if bestScore < minimumRetainingScore {
		return tracker.CategoryIgnored, bestScore
	}
	return bestCategory, bestScore
}

func (s *WeightedScorer) tierBonus(
	tier tracker.Category,
	amount float64,
	hasAmount, hasReceived, hasApproved bool,
	text string,
) int {
	bonus := 0
	switch tier {
	case tracker.CategoryStrongLeads:
		if hasAmount && amount >= strongVeryHighAmount {
			bonus += strongVeryHighBonus
		}
		if matchesAnyKeyword(text, newConstructionKeywords) {
			bonus += strongNewBuildBonus
		}
	case tracker.CategoryWeakLeads:
		if hasAmount && amount >= weakMidBandLow && amount < weakMidBandHigh {
			bonus += weakMidBandBonus
		}
	case tracker.CategoryWatchlist:
		if hasReceived && !hasApproved {
			bonus += watchPendingBonus
		}
	}
	return bonus
}

// band is one ordered amount+date floor for the threshold strategy.
type band struct {
	category      tracker.Category
	minAmount     float64
	receivedAfter time.Time
	score         int
}

// BandScorer classifies by ordered, non-overlapping amount and date floors,
// highest tier first; the first matching band wins with a fixed score.
type BandScorer struct{}

var bands = []band{
	{tracker.CategoryStrongLeads, 2_000_000, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 90},
	{tracker.CategoryWeakLeads, 1_000_000, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 60},
	{tracker.CategoryWatchlist, 100_000, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), 30},
}

// Score implements Scorer. Rules are ignored; the bands are fixed.
func (s *BandScorer) Score(rec tracker.Record, _ []tracker.ScoringRule) (tracker.Category, int) {
	amount, hasAmount := rec.EstimatedAmount()
	received, hasReceived := rec.ReceivedDate()
	if hasAmount && hasReceived {
		for _, b := range bands {
			if amount >= b.minAmount && !received.Before(b.receivedAfter) {
				return b.category, b.score
			}
		}
	}
	return tracker.CategoryIgnored, 0
}

func ruleFor(rules []tracker.ScoringRule, category tracker.Category) (tracker.ScoringRule, bool) {
	for _, r := range rules {
		if r.Category == category {
			return r, true
		}
	}
	return tracker.ScoringRule{}, false
}

// searchText is the lower-cased concatenation of the fields keyword rules
// match against.
func searchText(rec tracker.Record) string {
	return strings.ToLower(strings.Join([]string{
		rec[tracker.KeyProjectName],
		rec[tracker.KeyProjectType],
		rec[tracker.KeyProjectScope],
	}, " "))
}

// matchesAnyKeyword reports whether any keyword is a substring of text.
// Only the first match counts, so the result is boolean by construction.
func matchesAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
