package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/metrics"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// StoredProject is one persisted record plus its classification.
type StoredProject struct {
	ID        int64            `json:"id"`
	Record    tracker.Record   `json:"record"`
	Category  tracker.Category `json:"category"`
	Score     int              `json:"score"`
	ScrapedAt time.Time        `json:"scraped_at"`
}

// ProjectExists reports whether a project with this identity is already saved.
func (s *Store) ProjectExists(id tracker.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.Get(&n,
		`SELECT COUNT(*) FROM projects WHERE origin_id = ? AND app_id = ?`,
		id.OriginID, id.AppID)
	if err != nil {
		return false, fmt.Errorf("check project %s/%s: %w", id.OriginID, id.AppID, err)
	}
	return n > 0, nil
}

// SaveProject upserts a record and classifies it in the same transaction, so
// no saved project is ever observable without a category row. Transient
// sqlite write contention is retried with doubling backoff before giving up.
func (s *Store) SaveProject(rec tracker.Record) error {
	id := rec.Identity()
	if id.OriginID == "" || id.AppID == "" {
		metrics.RecordsRejected.Inc()
		return fmt.Errorf("save project: record missing origin_id/app_id")
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.SaveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.SaveBackoff << (attempt - 1))
		}
		if err := s.saveOnce(rec); err != nil {
			lastErr = err
			if isBusy(err) {
				s.logger.Warn("save contended, retrying",
					zap.String("origin_id", id.OriginID),
					zap.String("app_id", id.AppID),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			break
		}
		metrics.RecordsSaved.Inc()
		return nil
	}
	metrics.SaveFailures.Inc()
	return fmt.Errorf("save project %s/%s: %w", id.OriginID, id.AppID, lastErr)
}

func (s *Store) saveOnce(rec tracker.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamped := rec.Clone()
	stamped[tracker.KeyScrapedAt] = now.Format(time.RFC3339)

	payload, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var projectID int64
	err = tx.QueryRowx(`
		INSERT INTO projects
			(origin_id, app_id, county_id, client_id, district_code,
			 district_name, dsa_app_id, ptn, project_name, project_data, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_id, app_id) DO UPDATE SET
			county_id = excluded.county_id,
			client_id = excluded.client_id,
			district_code = excluded.district_code,
			district_name = excluded.district_name,
			dsa_app_id = excluded.dsa_app_id,
			ptn = excluded.ptn,
			project_name = excluded.project_name,
			project_data = excluded.project_data,
			scraped_at = excluded.scraped_at
		RETURNING id`,
		stamped[tracker.KeyOriginID], stamped[tracker.KeyAppID],
		stamped[tracker.KeyCountyID], stamped[tracker.KeyClientID],
		stamped[tracker.KeyDistrictCode], stamped[tracker.KeyDistrictName],
		stamped[tracker.KeyDSAAppID], stamped[tracker.KeyPTN],
		stamped[tracker.KeyProjectName], string(payload), now,
	).Scan(&projectID)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	rules, err := rulesIn(tx)
	if err != nil {
		return err
	}
	category, score := s.scorer.Score(stamped, rules)
	if err := upsertCategory(tx, projectID, category, score, now); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertCategory(tx *sqlx.Tx, projectID int64, category tracker.Category, score int, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO project_categories (project_id, category, score, last_categorized)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			category = excluded.category,
			score = excluded.score,
			last_categorized = excluded.last_categorized`,
		projectID, string(category), score, now)
	if err != nil {
		return fmt.Errorf("upsert classification: %w", err)
	}
	return nil
}

// projectRow is the scan target for joined project + classification queries.
type projectRow struct {
	ID          int64     `db:"id"`
	ProjectData string    `db:"project_data"`
	Category    string    `db:"category"`
	Score       int       `db:"score"`
	ScrapedAt   time.Time `db:"scraped_at"`
}

func (r projectRow) toStored() (StoredProject, error) {
	var rec tracker.Record
	if err := json.Unmarshal([]byte(r.ProjectData), &rec); err != nil {
		return StoredProject{}, fmt.Errorf("decode project %d: %w", r.ID, err)
	}
	return StoredProject{
		ID:        r.ID,
		Record:    rec,
		Category:  tracker.Category(r.Category),
		Score:     r.Score,
		ScrapedAt: r.ScrapedAt,
	}, nil
}

// AllProjects returns every saved project with its classification, newest
// save first.
func (s *Store) AllProjects() ([]StoredProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := sb.
		Select("p.id", "p.project_data", "p.scraped_at", "pc.category", "pc.score").
		From("projects p").
		Join("project_categories pc ON pc.project_id = p.id").
		OrderBy("p.scraped_at DESC", "p.id DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryProjects(query, args...)
}

// ProjectsByCategory returns the projects in one tier ordered by score
// descending. A limit <= 0 means no limit.
func (s *Store) ProjectsByCategory(category tracker.Category, limit int) ([]StoredProject, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrCategoryUnknown, category)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := sb.
		Select("p.id", "p.project_data", "p.scraped_at", "pc.category", "pc.score").
		From("projects p").
		Join("project_categories pc ON pc.project_id = p.id").
		Where("pc.category = ?", string(category)).
		OrderBy("pc.score DESC", "p.id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryProjects(query, args...)
}

func (s *Store) queryProjects(query string, args ...any) ([]StoredProject, error) {
	var rows []projectRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	out := make([]StoredProject, 0, len(rows))
	for _, r := range rows {
		sp, err := r.toStored()
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

// ProjectCount returns the number of saved projects.
func (s *Store) ProjectCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM projects`); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// CategoryStatistics aggregates per-tier counts, estimated-value totals and
// average scores across all saved projects.
func (s *Store) CategoryStatistics() (map[tracker.Category]tracker.CategoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []projectRow
	err := s.db.Select(&rows, `
		SELECT p.id, p.project_data, p.scraped_at, pc.category, pc.score
		FROM projects p
		JOIN project_categories pc ON pc.project_id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("query category stats: %w", err)
	}

	stats := make(map[tracker.Category]tracker.CategoryStats, len(tracker.Categories))
	for _, cat := range tracker.Categories {
		stats[cat] = tracker.CategoryStats{}
	}
	scoreSums := make(map[tracker.Category]int)
	for _, r := range rows {
		sp, err := r.toStored()
		if err != nil {
			return nil, err
		}
		st := stats[sp.Category]
		st.Count++
		if amount, ok := sp.Record.EstimatedAmount(); ok {
			st.TotalValue += amount
		}
		scoreSums[sp.Category] += sp.Score
		stats[sp.Category] = st
	}
	for cat, st := range stats {
		if st.Count > 0 {
			st.AvgValue = st.TotalValue / float64(st.Count)
			st.AvgScore = float64(scoreSums[cat]) / float64(st.Count)
		}
		stats[cat] = st
	}
	return stats, nil
}

// RecategorizeAll re-scores every saved project against the current rules in
// one transaction and returns how many rows were updated.
func (s *Store) RecategorizeAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rules, err := rulesIn(tx)
	if err != nil {
		return 0, err
	}

	type idData struct {
		ID          int64  `db:"id"`
		ProjectData string `db:"project_data"`
	}
	var rows []idData
	if err := tx.Select(&rows, `SELECT id, project_data FROM projects ORDER BY id`); err != nil {
		return 0, fmt.Errorf("load projects: %w", err)
	}

	now := s.now()
	for _, row := range rows {
		var rec tracker.Record
		if err := json.Unmarshal([]byte(row.ProjectData), &rec); err != nil {
			return 0, fmt.Errorf("decode project %d: %w", row.ID, err)
		}
		category, score := s.scorer.Score(rec, rules)
		if err := upsertCategory(tx, row.ID, category, score, now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.Info("recategorized all projects", zap.Int("count", len(rows)))
	return len(rows), nil
}
