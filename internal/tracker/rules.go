package tracker

import "time"

// DefaultRules returns the scoring rules seeded into a fresh store. Amounts
// and date floors mirror the tiers the sales team started from; they are
// editable per category afterwards.
func DefaultRules() []ScoringRule {
	return []ScoringRule{
		{
			Category:      CategoryStrongLeads,
			MinAmount:     1_000_000,
			ReceivedAfter: date(2024, 1, 1),
			ApprovedAfter: date(2024, 1, 1),
			Keywords:      []string{"new construction", "modernization", "major renovation"},
		},
		{
			Category:      CategoryWeakLeads,
			MinAmount:     250_000,
			ReceivedAfter: date(2023, 6, 1),
			ApprovedAfter: date(2023, 6, 1),
			Keywords:      []string{"renovation", "upgrade", "improvement"},
		},
		{
			Category:      CategoryWatchlist,
			MinAmount:     50_000,
			ReceivedAfter: date(2023, 1, 1),
			ApprovedAfter: date(2023, 1, 1),
			Keywords:      []string{"addition", "expansion", "repair"},
		},
		{
			Category:      CategoryIgnored,
			MinAmount:     0,
			ReceivedAfter: date(2020, 1, 1),
			ApprovedAfter: date(2020, 1, 1),
			Keywords:      []string{"maintenance", "minor repair", "inspection"},
		},
	}
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
