package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// ErrCountyNotFound is returned when a county code is not in the registry.
var ErrCountyNotFound = errors.New("county not found")

// caCounties is the registry of California counties with their DGS codes.
var caCounties = []tracker.County{
	{Name: "Alameda", Code: "01"}, {Name: "Alpine", Code: "02"},
	{Name: "Amador", Code: "03"}, {Name: "Butte", Code: "04"},
	{Name: "Calaveras", Code: "05"}, {Name: "Colusa", Code: "06"},
	{Name: "Contra Costa", Code: "07"}, {Name: "Del Norte", Code: "08"},
	{Name: "El Dorado", Code: "09"}, {Name: "Fresno", Code: "10"},
	{Name: "Glenn", Code: "11"}, {Name: "Humboldt", Code: "12"},
	{Name: "Imperial", Code: "13"}, {Name: "Inyo", Code: "14"},
	{Name: "Kern", Code: "15"}, {Name: "Kings", Code: "16"},
	{Name: "Lake", Code: "17"}, {Name: "Lassen", Code: "18"},
	{Name: "Los Angeles", Code: "19"}, {Name: "Madera", Code: "20"},
	{Name: "Marin", Code: "21"}, {Name: "Mariposa", Code: "22"},
	{Name: "Mendocino", Code: "23"}, {Name: "Merced", Code: "24"},
	{Name: "Modoc", Code: "25"}, {Name: "Mono", Code: "26"},
	{Name: "Monterey", Code: "27"}, {Name: "Napa", Code: "28"},
	{Name: "Nevada", Code: "29"}, {Name: "Orange", Code: "30"},
	{Name: "Placer", Code: "31"}, {Name: "Plumas", Code: "32"},
	{Name: "Riverside", Code: "33"}, {Name: "Sacramento", Code: "34"},
	{Name: "San Benito", Code: "35"}, {Name: "San Bernardino", Code: "36"},
	{Name: "San Diego", Code: "37"}, {Name: "San Francisco", Code: "38"},
	{Name: "San Joaquin", Code: "39"}, {Name: "San Luis Obispo", Code: "40"},
	{Name: "San Mateo", Code: "41"}, {Name: "Santa Barbara", Code: "42"},
	{Name: "Santa Clara", Code: "43"}, {Name: "Santa Cruz", Code: "44"},
	{Name: "Shasta", Code: "45"}, {Name: "Sierra", Code: "46"},
	{Name: "Siskiyou", Code: "47"}, {Name: "Solano", Code: "48"},
	{Name: "Sonoma", Code: "49"}, {Name: "Stanislaus", Code: "50"},
	{Name: "Sutter", Code: "51"}, {Name: "Tehama", Code: "52"},
	{Name: "Trinity", Code: "53"}, {Name: "Tulare", Code: "54"},
	{Name: "Tuolumne", Code: "55"}, {Name: "Ventura", Code: "56"},
	{Name: "Yolo", Code: "57"}, {Name: "Yuba", Code: "58"},
}

// seedCounties fills an empty registry with all California counties. A
// non-empty table, including operator edits, is left alone.
func (s *Store) seedCounties() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM counties`); err != nil {
		return fmt.Errorf("count counties: %w", err)
	}
	if n > 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, c := range caCounties {
		if _, err := tx.Exec(
			`INSERT INTO counties (name, code) VALUES (?, ?)`, c.Name, c.Code); err != nil {
			return fmt.Errorf("seed county %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// countyRow is the scan target for the counties table joined with per-county
// saved-project counts.
type countyRow struct {
	ID            int64        `db:"id"`
	Name          string       `db:"name"`
	Code          string       `db:"code"`
	Enabled       bool         `db:"enabled"`
	LastScraped   sql.NullTime `db:"last_scraped"`
	TotalProjects int          `db:"total_projects"`
}

func (r countyRow) toCounty() tracker.County {
	c := tracker.County{
		ID:            r.ID,
		Name:          r.Name,
		Code:          r.Code,
		Enabled:       r.Enabled,
		TotalProjects: r.TotalProjects,
	}
	if r.LastScraped.Valid {
		t := r.LastScraped.Time.UTC()
		c.LastScraped = &t
	}
	return c
}

// Counties returns the registry ordered by name, with live saved-project
// counts folded in.
func (s *Store) Counties() ([]tracker.County, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []countyRow
	err := s.db.Select(&rows, `
		SELECT c.id, c.name, c.code, c.enabled, c.last_scraped,
		       COALESCE(p.n, c.total_projects) AS total_projects
		FROM counties c
		LEFT JOIN (
			SELECT county_id, COUNT(*) AS n FROM projects GROUP BY county_id
		) p ON p.county_id = c.code
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("load counties: %w", err)
	}
	counties := make([]tracker.County, 0, len(rows))
	for _, r := range rows {
		counties = append(counties, r.toCounty())
	}
	return counties, nil
}

// CountyByCode returns one registry entry, or ErrCountyNotFound.
func (s *Store) CountyByCode(code string) (tracker.County, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row countyRow
	err := s.db.Get(&row, `
		SELECT id, name, code, enabled, last_scraped, total_projects
		FROM counties WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.County{}, fmt.Errorf("county %s: %w", code, ErrCountyNotFound)
	}
	if err != nil {
		return tracker.County{}, fmt.Errorf("load county %s: %w", code, err)
	}
	return row.toCounty(), nil
}

// SetCountyEnabled flips whether a county participates in scheduled harvests.
func (s *Store) SetCountyEnabled(code string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE counties SET enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE code = ?`, enabled, code)
	if err != nil {
		return fmt.Errorf("update county %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("county %s: %w", code, ErrCountyNotFound)
	}
	s.logger.Info("county toggled", zap.String("code", code), zap.Bool("enabled", enabled))
	return nil
}

// TouchCountyScraped records a completed harvest over a county.
func (s *Store) TouchCountyScraped(code string, totalProjects int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE counties
		SET last_scraped = ?, total_projects = ?, updated_at = CURRENT_TIMESTAMP
		WHERE code = ?`, s.now(), totalProjects, code)
	if err != nil {
		return fmt.Errorf("touch county %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("county %s: %w", code, ErrCountyNotFound)
	}
	return nil
}
