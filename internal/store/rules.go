package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// ruleDateFormat is how date floors are stored in the criteria table.
const ruleDateFormat = "2006-01-02"

// seedRules inserts the default scoring rules for any tier not yet present.
// Existing rows, including operator edits, are left alone.
func (s *Store) seedRules() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range tracker.DefaultRules() {
		_, err := s.db.Exec(`
			INSERT INTO scoring_criteria
				(category, min_amount, received_after, approved_after, keywords)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(category) DO NOTHING`,
			string(rule.Category), rule.MinAmount,
			dateOrNull(rule.ReceivedAfter), dateOrNull(rule.ApprovedAfter),
			strings.Join(rule.Keywords, ","))
		if err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.Category, err)
		}
	}
	return nil
}

// criteriaRow is the scan target for the scoring_criteria table.
type criteriaRow struct {
	Category      string         `db:"category"`
	MinAmount     int64          `db:"min_amount"`
	ReceivedAfter sql.NullTime   `db:"received_after"`
	ApprovedAfter sql.NullTime   `db:"approved_after"`
	Keywords      sql.NullString `db:"keywords"`
}

func (r criteriaRow) toRule() tracker.ScoringRule {
	rule := tracker.ScoringRule{
		Category:  tracker.Category(r.Category),
		MinAmount: r.MinAmount,
	}
	rule.ReceivedAfter = parseRuleDate(r.ReceivedAfter)
	rule.ApprovedAfter = parseRuleDate(r.ApprovedAfter)
	if r.Keywords.Valid && r.Keywords.String != "" {
		for _, kw := range strings.Split(r.Keywords.String, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				rule.Keywords = append(rule.Keywords, kw)
			}
		}
	}
	return rule
}

// rulesIn loads all scoring rules through ext, which lets SaveProject read
// them inside its own transaction.
func rulesIn(ext sqlx.Ext) ([]tracker.ScoringRule, error) {
	rows, err := ext.Queryx(`
		SELECT category, min_amount, received_after, approved_after, keywords
		FROM scoring_criteria`)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules: %w", err)
	}
	defer rows.Close()

	var rules []tracker.ScoringRule
	for rows.Next() {
		var row criteriaRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan scoring rule: %w", err)
		}
		rules = append(rules, row.toRule())
	}
	return rules, rows.Err()
}

// Rules returns all scoring rules ordered highest tier first.
func (s *Store) Rules() ([]tracker.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := rulesIn(s.db)
	if err != nil {
		return nil, err
	}
	ordered := make([]tracker.ScoringRule, 0, len(rules))
	for _, cat := range tracker.Categories {
		for _, r := range rules {
			if r.Category == cat {
				ordered = append(ordered, r)
			}
		}
	}
	return ordered, nil
}

// Rule returns the scoring rule for one tier.
func (s *Store) Rule(category tracker.Category) (tracker.ScoringRule, error) {
	if !category.Valid() {
		return tracker.ScoringRule{}, fmt.Errorf("%w: %s", ErrCategoryUnknown, category)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row criteriaRow
	err := s.db.Get(&row, `
		SELECT category, min_amount, received_after, approved_after, keywords
		FROM scoring_criteria WHERE category = ?`, string(category))
	if err != nil {
		return tracker.ScoringRule{}, fmt.Errorf("load rule %s: %w", category, err)
	}
	return row.toRule(), nil
}

// UpdateRule replaces the thresholds for one tier. It does not re-score
// existing projects; callers wanting that follow up with RecategorizeAll.
func (s *Store) UpdateRule(rule tracker.ScoringRule) error {
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: %s", ErrCategoryUnknown, rule.Category)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO scoring_criteria
			(category, min_amount, received_after, approved_after, keywords)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			min_amount = excluded.min_amount,
			received_after = excluded.received_after,
			approved_after = excluded.approved_after,
			keywords = excluded.keywords,
			updated_at = CURRENT_TIMESTAMP`,
		string(rule.Category), rule.MinAmount,
		dateOrNull(rule.ReceivedAfter), dateOrNull(rule.ApprovedAfter),
		strings.Join(rule.Keywords, ","))
	if err != nil {
		return fmt.Errorf("update rule %s: %w", rule.Category, err)
	}
	s.logger.Info("scoring rule updated", zap.String("category", string(rule.Category)))
	return nil
}

func dateOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(ruleDateFormat)
}

func parseRuleDate(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time.UTC()
}
