// Package store provides sqlite-backed persistence for harvested projects,
// their classifications, scoring rules, jobs and the county registry.
//
// All mutations serialize behind one process-wide write lock; reads may run
// concurrently with each other but never observe a partially written record.
// A project save and its classification commit in the same transaction.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/classify"
)

// sb builds queries with sqlite-style question placeholders.
var sb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrCategoryUnknown is returned for category names outside the fixed tiers.
var ErrCategoryUnknown = errors.New("unknown category")

// Config controls store behavior.
type Config struct {
	// Path is the sqlite database path, or an in-memory DSN for tests.
	Path string
	// SaveRetries bounds attempts when sqlite reports transient contention.
	SaveRetries int
	// SaveBackoff is the base delay between attempts, doubled each retry.
	SaveBackoff time.Duration
}

// Store is the sqlite-backed record store.
type Store struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	scorer classify.Scorer
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

// New opens (creating if needed) the database at cfg.Path, initializes the
// schema and seeds default scoring rules and the county registry.
func New(cfg Config, scorer classify.Scorer, logger *zap.Logger) (*Store, error) {
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SaveRetries <= 0 {
		cfg.SaveRetries = 3
	}
	if cfg.SaveBackoff <= 0 {
		cfg.SaveBackoff = 100 * time.Millisecond
	}

	db, err := sqlx.Connect("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", cfg.Path, err)
	}
	if inMemory(cfg.Path) {
		// An in-memory sqlite database exists per connection; the pool must
		// not hand out a second one.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		scorer: scorer,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedRules(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedCounties(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func dsn(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			county_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			district_code TEXT,
			district_name TEXT,
			dsa_app_id TEXT,
			ptn TEXT,
			project_name TEXT,
			project_data TEXT NOT NULL,
			scraped_at DATETIME NOT NULL,
			UNIQUE(origin_id, app_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scraping_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			county_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			started_at DATETIME,
			completed_at DATETIME,
			total_projects INTEGER DEFAULT 0,
			processed_projects INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS project_categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			score INTEGER DEFAULT 0,
			last_categorized DATETIME NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id),
			UNIQUE(project_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scoring_criteria (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			min_amount INTEGER DEFAULT 0,
			received_after DATE,
			approved_after DATE,
			keywords TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(category)
		)`,
		`CREATE TABLE IF NOT EXISTS counties (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			code TEXT NOT NULL UNIQUE,
			enabled BOOLEAN DEFAULT TRUE,
			last_scraped DATETIME,
			total_projects INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_county_client
			ON projects(county_id, client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_origin_app
			ON projects(origin_id, app_id)`,
		`CREATE INDEX IF NOT EXISTS idx_project_categories_category
			ON project_categories(category)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// isBusy reports whether err is sqlite transient write contention.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
