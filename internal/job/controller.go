// Package job runs harvest jobs over the tracker site: one county traversal
// per run, at most one run in flight per process.
package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/metrics"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// ErrJobRunning is returned when a start request races an in-flight run.
var ErrJobRunning = errors.New("a harvest job is already running")

// ErrNoActiveJob is returned by Cancel when nothing is running.
var ErrNoActiveJob = errors.New("no active harvest job")

// SiteNavigator walks the county -> district -> project hierarchy.
type SiteNavigator interface {
	EnumerateDistricts(ctx context.Context, countyID string) []tracker.DistrictRef
	EnumerateProjects(ctx context.Context, clientID string) []tracker.ProjectSummary
	FetchDetails(ctx context.Context, originID, appID string) tracker.Record
}

// RecordStore is the persistence surface a run needs.
type RecordStore interface {
	ProjectExists(id tracker.Identity) (bool, error)
	SaveProject(rec tracker.Record) error

	CreateJob(countyID string) (int64, error)
	MarkJobRunning(id int64) error
	SetJobTotal(id int64, total int) error
	UpdateJobProgress(id int64, processed, success int) error
	CompleteJob(id int64, success int) error
	StopJob(id int64) error
	FailJob(id int64, message string) error
	JobByID(id int64) (tracker.Job, error)

	TouchCountyScraped(code string, totalProjects int) error
}

// Config controls run behavior.
type Config struct {
	// Delay is the politeness pause between detail-page fetches.
	Delay time.Duration
	// MaxProjects caps how many projects one run processes; 0 means no cap.
	MaxProjects int
}

// Controller owns the single active-run slot and the run loop.
type Controller struct {
	store  RecordStore
	nav    SiteNavigator
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active *run
}

// run is one in-flight harvest.
type run struct {
	jobID    int64
	countyID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewController wires a controller; it starts nothing by itself.
func NewController(store RecordStore, nav SiteNavigator, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, nav: nav, cfg: cfg, logger: logger}
}

// Start creates a job for the county and launches its run in the background.
// Only one run may be in flight; a second start fails with ErrJobRunning
// without creating a job row.
func (c *Controller) Start(countyID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return 0, fmt.Errorf("%w (job %d)", ErrJobRunning, c.active.jobID)
	}

	jobID, err := c.store.CreateJob(countyID)
	if err != nil {
		return 0, fmt.Errorf("start harvest: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{jobID: jobID, countyID: countyID, cancel: cancel, done: make(chan struct{})}
	c.active = r

	go c.execute(ctx, r)

	c.logger.Info("harvest started",
		zap.Int64("job_id", jobID), zap.String("county_id", countyID))
	return jobID, nil
}

// Cancel stops the active run and blocks until its loop has fully wound down
// and the job row reached its terminal state. Returns the cancelled job id.
func (c *Controller) Cancel() (int64, error) {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return 0, ErrNoActiveJob
	}
	r.cancel()
	<-r.done
	return r.jobID, nil
}

// ActiveJobID returns the in-flight job id, if any.
func (c *Controller) ActiveJobID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0, false
	}
	return c.active.jobID, true
}

// Status returns the lifecycle state of any job, active or historical.
func (c *Controller) Status(jobID int64) (tracker.Job, error) {
	return c.store.JobByID(jobID)
}

// execute is the run loop. It owns the job row's terminal transition: exactly
// one of completed, stopped or error is written before the slot is released.
func (c *Controller) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer func() {
		c.mu.Lock()
		if c.active == r {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	log := c.logger.With(zap.Int64("job_id", r.jobID), zap.String("county_id", r.countyID))

	if err := c.store.MarkJobRunning(r.jobID); err != nil {
		log.Error("mark running failed", zap.Error(err))
		c.fail(r.jobID, err)
		return
	}

	districts := c.nav.EnumerateDistricts(ctx, r.countyID)
	if ctx.Err() != nil {
		c.stop(r.jobID, log)
		return
	}
	if len(districts) == 0 {
		// An empty county is a normal, if unproductive, run.
		log.Info("no districts found")
	}

	// Pre-count the work so progress is a fraction of a known total. The
	// listings fetched here are reused below rather than fetched twice.
	listings := make([][]tracker.ProjectSummary, len(districts))
	total := 0
	for i, d := range districts {
		if ctx.Err() != nil {
			c.stop(r.jobID, log)
			return
		}
		listings[i] = c.nav.EnumerateProjects(ctx, d.ClientID)
		total += len(listings[i])
	}
	if c.cfg.MaxProjects > 0 && total > c.cfg.MaxProjects {
		total = c.cfg.MaxProjects
	}
	if err := c.store.SetJobTotal(r.jobID, total); err != nil {
		log.Error("set total failed", zap.Error(err))
		c.fail(r.jobID, err)
		return
	}
	log.Info("harvest scope counted",
		zap.Int("districts", len(districts)), zap.Int("total_projects", total))

	processed, success := 0, 0
	for i, d := range districts {
		for _, summary := range listings[i] {
			if ctx.Err() != nil {
				c.stop(r.jobID, log)
				return
			}
			if c.cfg.MaxProjects > 0 && processed >= c.cfg.MaxProjects {
				break
			}

			processed++
			if c.harvestOne(ctx, d, summary, log) {
				success++
			}
			if err := c.store.UpdateJobProgress(r.jobID, processed, success); err != nil {
				log.Warn("progress update failed", zap.Error(err))
			}
			if !c.pause(ctx) {
				c.stop(r.jobID, log)
				return
			}
		}
	}

	if err := c.store.TouchCountyScraped(r.countyID, success); err != nil {
		log.Warn("county touch failed", zap.Error(err))
	}
	if err := c.store.CompleteJob(r.jobID, success); err != nil {
		log.Error("complete failed", zap.Error(err))
		return
	}
	if processed >= 10 && float64(success)/float64(processed) < 0.8 {
		log.Warn("low harvest success rate",
			zap.Int("processed", processed), zap.Int("success", success))
	}
	log.Info("harvest completed",
		zap.Int("processed", processed), zap.Int("success", success))
}

// harvestOne processes a single project row and reports whether it ended in a
// persisted record. Already-saved identities count as success without a detail
// fetch, so a resumed run over mostly-harvested ground reports a healthy rate.
func (c *Controller) harvestOne(
	ctx context.Context,
	d tracker.DistrictRef,
	summary tracker.ProjectSummary,
	log *zap.Logger,
) bool {
	exists, err := c.store.ProjectExists(summary.Identity())
	if err != nil {
		log.Warn("existence check failed",
			zap.String("origin_id", summary.OriginID),
			zap.String("app_id", summary.AppID),
			zap.Error(err))
		return false
	}
	if exists {
		metrics.RecordsSkipped.Inc()
		return true
	}

	rec := c.nav.FetchDetails(ctx, summary.OriginID, summary.AppID)
	if len(rec) == 0 {
		return false
	}
	mergeContext(rec, d, summary)
	if err := validate(rec); err != nil {
		metrics.RecordsRejected.Inc()
		log.Warn("record rejected",
			zap.String("origin_id", summary.OriginID),
			zap.String("app_id", summary.AppID),
			zap.Error(err))
		return false
	}
	if err := c.store.SaveProject(rec); err != nil {
		log.Warn("save failed",
			zap.String("origin_id", summary.OriginID),
			zap.String("app_id", summary.AppID),
			zap.Error(err))
		return false
	}
	return true
}

// pause sleeps the politeness delay, returning false if cancelled meanwhile.
func (c *Controller) pause(ctx context.Context) bool {
	if c.cfg.Delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(c.cfg.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Controller) stop(jobID int64, log *zap.Logger) {
	if err := c.store.StopJob(jobID); err != nil {
		log.Error("stop failed", zap.Error(err))
		return
	}
	log.Info("harvest stopped")
}

func (c *Controller) fail(jobID int64, cause error) {
	if err := c.store.FailJob(jobID, cause.Error()); err != nil {
		c.logger.Error("fail transition failed",
			zap.Int64("job_id", jobID), zap.Error(err))
	}
}

// mergeContext folds district and listing context into the detail record.
// Index keys always reflect the traversal that found the project.
func mergeContext(rec tracker.Record, d tracker.DistrictRef, summary tracker.ProjectSummary) {
	rec[tracker.KeyCountyID] = d.CountyID
	rec[tracker.KeyClientID] = d.ClientID
	rec[tracker.KeyDistrictCode] = d.DistrictCode
	rec[tracker.KeyDistrictName] = d.DistrictName
	rec[tracker.KeyDSAAppID] = summary.DSAAppID
	rec[tracker.KeyPTN] = summary.PTN
	if rec[tracker.KeyProjectName] == "" {
		rec[tracker.KeyProjectName] = summary.ProjectName
	}
}

// corroboratingFields are detail-page fields of which at least one must be
// present for a record to count as a real application summary rather than an
// error page that happened to parse.
var corroboratingFields = []string{
	"Office ID", "Application #", "File #", tracker.KeyProjectType, "Address",
}

// validate enforces the minimum shape of a persistable record.
func validate(rec tracker.Record) error {
	var missing []string
	for _, key := range []string{
		tracker.KeyOriginID, tracker.KeyAppID,
		tracker.KeyProjectName, tracker.KeyDistrictName,
	} {
		if strings.TrimSpace(rec[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	for _, key := range corroboratingFields {
		if strings.TrimSpace(rec[key]) != "" {
			return nil
		}
	}
	return fmt.Errorf("no corroborating detail fields present")
}
