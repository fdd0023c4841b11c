package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// fakeStore is an in-memory RecordStore recording every call.
type fakeStore struct {
	mu       sync.Mutex
	existing map[tracker.Identity]bool
	saved    []tracker.Record
	jobs     map[int64]tracker.Job
	touched  map[string]int
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing: make(map[tracker.Identity]bool),
		jobs:     make(map[int64]tracker.Job),
		touched:  make(map[string]int),
	}
}

func (f *fakeStore) ProjectExists(id tracker.Identity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[id], nil
}

func (f *fakeStore) SaveProject(rec tracker.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[rec.Identity()] = true
	f.saved = append(f.saved, rec.Clone())
	return nil
}

func (f *fakeStore) CreateJob(countyID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := time.Now()
	f.jobs[f.nextID] = tracker.Job{
		ID: f.nextID, CountyID: countyID,
		Status: tracker.JobStatusPending, StartedAt: &now,
	}
	return f.nextID, nil
}

func (f *fakeStore) mutateJob(id int64, fn func(*tracker.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if !job.Status.Terminal() {
		fn(&job)
		f.jobs[id] = job
	}
	return nil
}

func (f *fakeStore) MarkJobRunning(id int64) error {
	return f.mutateJob(id, func(j *tracker.Job) { j.Status = tracker.JobStatusRunning })
}

func (f *fakeStore) SetJobTotal(id int64, total int) error {
	return f.mutateJob(id, func(j *tracker.Job) { j.Total = total })
}

func (f *fakeStore) UpdateJobProgress(id int64, processed, success int) error {
	return f.mutateJob(id, func(j *tracker.Job) {
		j.Processed = processed
		j.SuccessCount = success
	})
}

func (f *fakeStore) CompleteJob(id int64, success int) error {
	return f.mutateJob(id, func(j *tracker.Job) {
		j.Status = tracker.JobStatusCompleted
		j.SuccessCount = success
	})
}

func (f *fakeStore) StopJob(id int64) error {
	return f.mutateJob(id, func(j *tracker.Job) { j.Status = tracker.JobStatusStopped })
}

func (f *fakeStore) FailJob(id int64, message string) error {
	return f.mutateJob(id, func(j *tracker.Job) {
		j.Status = tracker.JobStatusError
		j.ErrorMessage = message
	})
}

func (f *fakeStore) JobByID(id int64) (tracker.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return tracker.Job{}, errors.New("job not found")
	}
	return job, nil
}

func (f *fakeStore) TouchCountyScraped(code string, totalProjects int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[code] = totalProjects
	return nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeStore) savedAt(i int) tracker.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[i]
}

func (f *fakeStore) touchedFor(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched[code]
}

func (f *fakeStore) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// fakeNav serves a fixed hierarchy; detailGate, when set, blocks FetchDetails
// until closed or the run is cancelled.
type fakeNav struct {
	districts  []tracker.DistrictRef
	projects   map[string][]tracker.ProjectSummary
	detailGate chan struct{}

	mu      sync.Mutex
	fetched []tracker.Identity
}

func (f *fakeNav) EnumerateDistricts(_ context.Context, _ string) []tracker.DistrictRef {
	return f.districts
}

func (f *fakeNav) EnumerateProjects(_ context.Context, clientID string) []tracker.ProjectSummary {
	return f.projects[clientID]
}

func (f *fakeNav) FetchDetails(ctx context.Context, originID, appID string) tracker.Record {
	if f.detailGate != nil {
		select {
		case <-f.detailGate:
		case <-ctx.Done():
			return tracker.Record{}
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, tracker.Identity{OriginID: originID, AppID: appID})
	f.mu.Unlock()
	return tracker.Record{
		tracker.KeyOriginID: originID,
		tracker.KeyAppID:    appID,
		"Office ID":         "SAC-02",
	}
}

func (f *fakeNav) fetchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func threeProjectNav() *fakeNav {
	return &fakeNav{
		districts: []tracker.DistrictRef{
			{ClientID: "200", DistrictCode: "34-10", DistrictName: "River Unified", CountyID: "34"},
		},
		projects: map[string][]tracker.ProjectSummary{
			"200": {
				{OriginID: "02", AppID: "100", ProjectName: "Gym", ClientID: "200"},
				{OriginID: "02", AppID: "101", ProjectName: "Library", ClientID: "200"},
				{OriginID: "02", AppID: "102", ProjectName: "Cafeteria", ClientID: "200"},
			},
		},
	}
}

func waitTerminal(t *testing.T, c *Controller, jobID int64) tracker.Job {
	t.Helper()
	var job tracker.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = c.Status(jobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	c := NewController(st, threeProjectNav(), Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)

	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Total)
	require.Equal(t, job.Total, job.Processed, "every counted project is processed")
	require.Equal(t, 3, job.SuccessCount)
	require.Equal(t, 3, st.savedCount())
	require.Equal(t, 3, st.touchedFor("34"))

	saved := st.savedAt(0)
	require.Equal(t, "34", saved[tracker.KeyCountyID])
	require.Equal(t, "River Unified", saved[tracker.KeyDistrictName])
	require.Equal(t, "Gym", saved[tracker.KeyProjectName], "listing name fills the gap")

	_, active := c.ActiveJobID()
	require.False(t, active, "slot released after completion")
}

func TestRunSkipsSavedIdentities(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.existing[tracker.Identity{OriginID: "02", AppID: "101"}] = true
	nav := threeProjectNav()
	c := NewController(st, nav, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)

	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Processed)
	require.Equal(t, 3, job.SuccessCount, "a saved identity counts as success without a refetch")
	require.Equal(t, 2, nav.fetchedCount())
	require.Equal(t, 2, st.savedCount())
	require.Equal(t, 3, st.touchedFor("34"), "the county records the success count")
}

func TestSecondStartRejected(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nav := threeProjectNav()
	nav.detailGate = make(chan struct{})
	c := NewController(st, nav, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)

	_, err = c.Start("19")
	require.ErrorIs(t, err, ErrJobRunning)
	require.Equal(t, 1, st.jobCount(), "a rejected start must not create a job row")

	close(nav.detailGate)
	waitTerminal(t, c, jobID)

	// The slot is free again once the run winds down.
	require.Eventually(t, func() bool {
		_, err := c.Start("19")
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)
}

func TestCancelStopsRun(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nav := threeProjectNav()
	nav.detailGate = make(chan struct{})
	c := NewController(st, nav, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)

	// Wait for the run to be mid-flight before cancelling.
	require.Eventually(t, func() bool {
		job, err := c.Status(jobID)
		return err == nil && job.Status == tracker.JobStatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	cancelled, err := c.Cancel()
	require.NoError(t, err)
	require.Equal(t, jobID, cancelled)

	// Cancel blocks until the terminal state is already written.
	job, err := c.Status(jobID)
	require.NoError(t, err)
	require.Equal(t, tracker.JobStatusStopped, job.Status)

	_, active := c.ActiveJobID()
	require.False(t, active)

	_, err = c.Cancel()
	require.ErrorIs(t, err, ErrNoActiveJob)
}

func TestRestartAfterCancelSkipsSaved(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.existing[tracker.Identity{OriginID: "02", AppID: "100"}] = true
	st.existing[tracker.Identity{OriginID: "02", AppID: "101"}] = true
	nav := threeProjectNav()
	c := NewController(st, nav, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)
	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.SuccessCount, "resumed ground still counts as success")
	require.Equal(t, 1, nav.fetchedCount(), "only the unsaved identity is fetched")
	require.Equal(t, 1, st.savedCount())
}

func TestValidationRejectsThinRecords(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	nav := &fakeNav{
		districts: []tracker.DistrictRef{
			{ClientID: "200", DistrictName: "", CountyID: "34"},
		},
		projects: map[string][]tracker.ProjectSummary{
			"200": {{OriginID: "02", AppID: "100", ProjectName: "Gym", ClientID: "200"}},
		},
	}
	c := NewController(st, nav, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)
	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Processed)
	require.Equal(t, 0, job.SuccessCount, "record without a district name is rejected")
	require.Equal(t, 0, st.savedCount())
}

func TestEmptyCountyCompletes(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	c := NewController(st, &fakeNav{}, Config{}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)
	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 0, job.Total)
	require.Equal(t, 0, job.Processed)
	require.Empty(t, job.ErrorMessage)
	require.Equal(t, 0, st.touchedFor("34"))
}

func TestMaxProjectsCap(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	c := NewController(st, threeProjectNav(), Config{MaxProjects: 2}, nil)

	jobID, err := c.Start("34")
	require.NoError(t, err)
	job := waitTerminal(t, c, jobID)
	require.Equal(t, tracker.JobStatusCompleted, job.Status)
	require.Equal(t, 2, job.Total, "the reported total reflects the cap")
	require.Equal(t, 2, job.Processed)
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	valid := tracker.Record{
		tracker.KeyOriginID:     "02",
		tracker.KeyAppID:        "100",
		tracker.KeyProjectName:  "Gym",
		tracker.KeyDistrictName: "River Unified",
		"Office ID":             "SAC-02",
	}
	require.NoError(t, validate(valid))

	missing := valid.Clone()
	delete(missing, tracker.KeyProjectName)
	err := validate(missing)
	require.Error(t, err)
	require.Contains(t, err.Error(), tracker.KeyProjectName)

	thin := valid.Clone()
	delete(thin, "Office ID")
	require.Error(t, validate(thin), "at least one corroborating field is required")

	thin[tracker.KeyProjectType] = "Modernization"
	require.NoError(t, validate(thin))
}

func TestStartAssignsDistinctJobIDs(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	c := NewController(st, threeProjectNav(), Config{}, nil)

	seen := make(map[int64]bool)
	for i := 0; i < 3; i++ {
		jobID, err := c.Start(fmt.Sprintf("%02d", i+1))
		require.NoError(t, err)
		require.False(t, seen[jobID])
		seen[jobID] = true
		waitTerminal(t, c, jobID)
	}
}
