// Package navigator drives the county -> district -> project traversal of the
// tracker site, yielding candidate records for the harvest pipeline.
package navigator

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/metrics"
	"github.com/buildlead/dsa-harvester/internal/pagesource"
	"github.com/buildlead/dsa-harvester/internal/reconcile"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// listingTableID matches the grid view table carrying district/project rows.
var listingTableID = regexp.MustCompile(`gdvsch`)

const (
	mainContentFragment = "MainContent"
	spanIDPrefix        = "ctl00_MainContent_"
	spanLabelPrefix     = "lbl"
)

// Navigator enumerates districts and projects and fetches project details.
// All reads are non-fatal: a failed fetch yields an empty result so the
// traversal can continue past one bad page.
type Navigator struct {
	source  pagesource.Source
	baseURL string
	logger  *zap.Logger
}

// New builds a Navigator rooted at baseURL (trailing slash expected).
func New(source pagesource.Source, baseURL string, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Navigator{source: source, baseURL: baseURL, logger: logger}
}

// EnumerateDistricts returns the districts listed on a county page, in row
// order. A row qualifies only with a navigable ClientId link and at least
// three populated cells.
func (n *Navigator) EnumerateDistricts(ctx context.Context, countyID string) []tracker.DistrictRef {
	pageURL := fmt.Sprintf("%sCountySchoolProjects.aspx?County=%s", n.baseURL, url.QueryEscape(countyID))
	doc := n.fetch(ctx, pageURL)
	if doc == nil {
		return nil
	}

	var districts []tracker.DistrictRef
	for _, row := range doc.TableRows(listingTableID) {
		if len(row.Cells) < 3 {
			continue
		}
		clientID := queryParam(row.Cells[0].Href, "ClientId")
		if clientID == "" {
			continue
		}
		districts = append(districts, tracker.DistrictRef{
			ClientID:     clientID,
			DistrictCode: row.Cells[1].Text,
			DistrictName: row.Cells[2].Text,
			CountyID:     countyID,
		})
	}
	n.logger.Info("districts enumerated",
		zap.String("county_id", countyID),
		zap.Int("count", len(districts)),
	)
	return districts
}

// EnumerateProjects returns the project summaries listed on a district page,
// in row order. A row qualifies only with a link carrying both OriginId and
// AppId and at least four populated cells.
func (n *Navigator) EnumerateProjects(ctx context.Context, clientID string) []tracker.ProjectSummary {
	pageURL := fmt.Sprintf("%sProjectList.aspx?ClientId=%s", n.baseURL, url.QueryEscape(clientID))
	doc := n.fetch(ctx, pageURL)
	if doc == nil {
		return nil
	}

	var projects []tracker.ProjectSummary
	for _, row := range doc.TableRows(listingTableID) {
		if len(row.Cells) < 4 {
			continue
		}
		originID := queryParam(row.Cells[0].Href, "OriginId")
		appID := queryParam(row.Cells[0].Href, "AppId")
		if originID == "" || appID == "" {
			continue
		}
		projects = append(projects, tracker.ProjectSummary{
			OriginID:    originID,
			AppID:       appID,
			DSAAppID:    row.Cells[1].Text,
			PTN:         row.Cells[2].Text,
			ProjectName: row.Cells[3].Text,
			ClientID:    clientID,
		})
	}
	n.logger.Info("projects enumerated",
		zap.String("client_id", clientID),
		zap.Int("count", len(projects)),
	)
	return projects
}

// FetchDetails fetches a project's application summary page and reconciles
// its raw attribute bag into canonical fields. Returns an empty map when the
// page cannot be fetched.
func (n *Navigator) FetchDetails(ctx context.Context, originID, appID string) tracker.Record {
	pageURL := fmt.Sprintf("%sApplicationSummary.aspx?OriginId=%s&AppId=%s",
		n.baseURL, url.QueryEscape(originID), url.QueryEscape(appID))
	doc := n.fetch(ctx, pageURL)
	if doc == nil {
		return tracker.Record{}
	}

	bag := tracker.NewBag()
	bag.Set(tracker.KeyOriginID, originID)
	bag.Set(tracker.KeyAppID, appID)
	bag.Set(tracker.KeyURL, pageURL)

	for _, span := range doc.LabeledSpans(mainContentFragment) {
		field := spanFieldName(span.ID)
		if field == "" {
			continue
		}
		bag.Set(field, span.Text)
	}
	for _, kv := range doc.TwoColumnRows() {
		key := strings.ReplaceAll(strings.ToLower(kv.Key), " ", "_")
		key = strings.ReplaceAll(key, ":", "")
		if key == "" {
			continue
		}
		bag.Set(fmt.Sprintf("table_%d_%s", kv.TableIndex, key), kv.Value)
	}

	return reconcile.Reconcile(bag).Record()
}

// fetch wraps Source.Fetch with non-fatal error handling and metrics.
func (n *Navigator) fetch(ctx context.Context, pageURL string) *pagesource.Document {
	doc, err := n.source.Fetch(ctx, pageURL)
	if err != nil {
		metrics.FetchErrors.Inc()
		n.logger.Warn("page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	metrics.PagesFetched.Inc()
	return doc
}

// spanFieldName strips the ASP.NET control prefix and label marker from a
// span id, e.g. "ctl00_MainContent_lblestamt" -> "estamt".
func spanFieldName(id string) string {
	field := strings.ReplaceAll(id, spanIDPrefix, "")
	field = strings.ReplaceAll(field, spanLabelPrefix, "")
	return strings.ToLower(field)
}

// queryParam extracts one query parameter from a possibly relative href.
func queryParam(href, name string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}
