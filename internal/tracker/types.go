// Package tracker defines core domain types shared across subsystems.
package tracker

import "time"

// Category is the priority tier assigned to a harvested project.
type Category string

// Category values persisted in the classification table.
const (
	CategoryStrongLeads Category = "strongLeads"
	CategoryWeakLeads   Category = "weakLeads"
	CategoryWatchlist   Category = "watchlist"
	CategoryIgnored     Category = "ignored"
)

// Categories lists all tiers, highest priority first.
var Categories = []Category{
	CategoryStrongLeads,
	CategoryWeakLeads,
	CategoryWatchlist,
	CategoryIgnored,
}

// Valid reports whether c is one of the known tiers.
func (c Category) Valid() bool {
	switch c {
	case CategoryStrongLeads, CategoryWeakLeads, CategoryWatchlist, CategoryIgnored:
		return true
	default:
		return false
	}
}

// Identity uniquely names one harvested project on the tracker site.
type Identity struct {
	OriginID string `json:"origin_id"`
	AppID    string `json:"app_id"`
}

// DistrictRef points at one school district row on a county listing page.
// It is derived per traversal and never persisted on its own.
type DistrictRef struct {
	ClientID     string `json:"client_id"`
	DistrictCode string `json:"district_code"`
	DistrictName string `json:"district_name"`
	CountyID     string `json:"county_id"`
}

// ProjectSummary is one project row on a district listing page.
type ProjectSummary struct {
	OriginID    string `json:"origin_id"`
	AppID       string `json:"app_id"`
	DSAAppID    string `json:"dsa_app_id"`
	PTN         string `json:"ptn"`
	ProjectName string `json:"project_name"`
	ClientID    string `json:"client_id"`
}

// Identity returns the summary's natural key.
func (p ProjectSummary) Identity() Identity {
	return Identity{OriginID: p.OriginID, AppID: p.AppID}
}

// Record is the canonical merged attribute set for one harvested project:
// district context + listing summary + reconciled detail fields + provenance.
// Keys are free-form; well-known ones have typed accessors below.
type Record map[string]string

// Well-known attribute keys. Index columns use snake_case keys set by the
// traversal; detail fields keep the human-readable labels from the site.
const (
	KeyOriginID     = "origin_id"
	KeyAppID        = "app_id"
	KeyCountyID     = "county_id"
	KeyClientID     = "client_id"
	KeyDistrictCode = "district_code"
	KeyDistrictName = "district_name"
	KeyDSAAppID     = "dsa_app_id"
	KeyPTN          = "ptn"
	KeyProjectName  = "project_name"
	KeyURL          = "url"
	KeyScrapedAt    = "scraped_at"

	KeyEstimatedAmt = "Estimated Amt"
	KeyReceivedDate = "Received Date"
	KeyApprovedDate = "Approved Date"
	KeyProjectType  = "Project Type"
	KeyProjectScope = "Project Scope"
)

// Identity returns the record's natural key.
func (r Record) Identity() Identity {
	return Identity{OriginID: r[KeyOriginID], AppID: r[KeyAppID]}
}

// EstimatedAmount parses the currency-formatted estimated amount field.
func (r Record) EstimatedAmount() (float64, bool) {
	return ParseAmount(r[KeyEstimatedAmt])
}

// ReceivedDate parses the received date field.
func (r Record) ReceivedDate() (time.Time, bool) {
	return ParseDate(r[KeyReceivedDate])
}

// ApprovedDate parses the approved date field.
func (r Record) ApprovedDate() (time.Time, bool) {
	return ParseDate(r[KeyApprovedDate])
}

// Clone returns a shallow copy so callers can mutate safely.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Classification is the tier + score assigned to one record, 1:1 with it.
type Classification struct {
	RecordID        int64     `json:"record_id"`
	Category        Category  `json:"category"`
	Score           int       `json:"score"`
	LastCategorized time.Time `json:"last_categorized"`
}

// ScoringRule holds the per-category thresholds driving classification.
// Zero dates mean the date floor is unset.
type ScoringRule struct {
	Category      Category  `json:"category"`
	MinAmount     int64     `json:"min_amount"`
	ReceivedAfter time.Time `json:"received_after"`
	ApprovedAfter time.Time `json:"approved_after"`
	Keywords      []string  `json:"keywords"`
}

// CategoryStats summarizes the records assigned to one tier.
type CategoryStats struct {
	Count      int     `json:"count"`
	TotalValue float64 `json:"total_value"`
	AvgValue   float64 `json:"avg_value"`
	AvgScore   float64 `json:"avg_score"`
}

// JobStatus is the lifecycle state of a harvest run.
type JobStatus string

// Job status values persisted in the jobs table. Transitions are monotonic:
// pending -> running -> one of the terminal states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusError, JobStatusStopped:
		return true
	default:
		return false
	}
}

// Job is one harvest run's lifecycle and progress state.
type Job struct {
	ID           int64      `json:"id"`
	CountyID     string     `json:"county_id"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	SuccessCount int        `json:"success_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// County is one entry in the seeded county registry.
type County struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Code          string     `json:"code"`
	Enabled       bool       `json:"enabled"`
	LastScraped   *time.Time `json:"last_scraped,omitempty"`
	TotalProjects int        `json:"total_projects"`
}
