package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// jobRow is the scan target for the scraping_jobs table.
type jobRow struct {
	ID           int64          `db:"id"`
	CountyID     string         `db:"county_id"`
	Status       string         `db:"status"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Total        int            `db:"total_projects"`
	Processed    int            `db:"processed_projects"`
	SuccessCount int            `db:"success_count"`
	ErrorMessage sql.NullString `db:"error_message"`
}

func (r jobRow) toJob() tracker.Job {
	job := tracker.Job{
		ID:           r.ID,
		CountyID:     r.CountyID,
		Status:       tracker.JobStatus(r.Status),
		Total:        r.Total,
		Processed:    r.Processed,
		SuccessCount: r.SuccessCount,
		ErrorMessage: r.ErrorMessage.String,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return job
}

// CreateJob records a new pending run for a county and returns its id.
func (s *Store) CreateJob(countyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO scraping_jobs (county_id, status, started_at)
		VALUES (?, ?, ?)`,
		countyID, string(tracker.JobStatusPending), s.now())
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job created", zap.Int64("job_id", id), zap.String("county_id", countyID))
	return id, nil
}

// MarkJobRunning moves a pending job to running. Terminal jobs stay put.
func (s *Store) MarkJobRunning(id int64) error {
	return s.updateJob(id, `
		UPDATE scraping_jobs SET status = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(tracker.JobStatusRunning), id,
		string(tracker.JobStatusCompleted), string(tracker.JobStatusError), string(tracker.JobStatusStopped))
}

// SetJobTotal records the pre-counted number of candidate projects.
func (s *Store) SetJobTotal(id int64, total int) error {
	return s.updateJob(id, `UPDATE scraping_jobs SET total_projects = ? WHERE id = ?`, total, id)
}

// UpdateJobProgress records how far a running job has gotten.
func (s *Store) UpdateJobProgress(id int64, processed, success int) error {
	return s.updateJob(id, `
		UPDATE scraping_jobs SET processed_projects = ?, success_count = ? WHERE id = ?`,
		processed, success, id)
}

// CompleteJob marks a job successfully finished.
func (s *Store) CompleteJob(id int64, success int) error {
	return s.finishJob(id, tracker.JobStatusCompleted, "", &success)
}

// StopJob marks a job cancelled. Progress recorded so far is preserved.
func (s *Store) StopJob(id int64) error {
	return s.finishJob(id, tracker.JobStatusStopped, "", nil)
}

// FailJob marks a job failed with its error message.
func (s *Store) FailJob(id int64, message string) error {
	return s.finishJob(id, tracker.JobStatusError, message, nil)
}

// finishJob moves a non-terminal job into a terminal state exactly once.
func (s *Store) finishJob(id int64, status tracker.JobStatus, message string, success *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `UPDATE scraping_jobs SET status = ?, completed_at = ?, error_message = ?`
	args := []any{string(status), s.now(), nullIfEmpty(message)}
	if success != nil {
		query += `, success_count = ?`
		args = append(args, *success)
	}
	query += ` WHERE id = ? AND status NOT IN (?, ?, ?)`
	args = append(args, id,
		string(tracker.JobStatusCompleted), string(tracker.JobStatusError), string(tracker.JobStatusStopped))

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %d: %w", id, err)
	}
	if n == 0 {
		// Either unknown or already terminal; distinguish for the caller.
		if _, jerr := s.jobByIDLocked(id); jerr != nil {
			return jerr
		}
		s.logger.Debug("job already terminal", zap.Int64("job_id", id), zap.String("status", string(status)))
		return nil
	}
	s.logger.Info("job finished", zap.Int64("job_id", id), zap.String("status", string(status)))
	return nil
}

func (s *Store) updateJob(id int64, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, jerr := s.jobByIDLocked(id); jerr != nil {
			return jerr
		}
	}
	return nil
}

// JobByID returns one job's lifecycle state, or ErrJobNotFound.
func (s *Store) JobByID(id int64) (tracker.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobByIDLocked(id)
}

func (s *Store) jobByIDLocked(id int64) (tracker.Job, error) {
	var row jobRow
	err := s.db.Get(&row, `
		SELECT id, county_id, status, started_at, completed_at,
		       total_projects, processed_projects, success_count, error_message
		FROM scraping_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Job{}, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return tracker.Job{}, fmt.Errorf("load job %d: %w", id, err)
	}
	return row.toJob(), nil
}

// RecentJobs returns the most recent jobs, newest first.
func (s *Store) RecentJobs(limit int) ([]tracker.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var rows []jobRow
	err := s.db.Select(&rows, `
		SELECT id, county_id, status, started_at, completed_at,
		       total_projects, processed_projects, success_count, error_message
		FROM scraping_jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent jobs: %w", err)
	}
	jobs := make([]tracker.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
