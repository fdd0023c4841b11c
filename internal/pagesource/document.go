// Package pagesource abstracts fetching and querying tracker site pages.
// The traversal layer depends only on the Source interface; the production
// implementation fetches with Colly and queries with goquery.
package pagesource

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source fetches a URL and returns its parsed document.
type Source interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document wraps a parsed page and exposes the query operations the
// traversal needs.
type Document struct {
	doc *goquery.Document
}

// NewDocument parses HTML from r.
func NewDocument(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Document{doc: doc}, nil
}

// Row is one table row, cells in page order.
type Row struct {
	Cells []Cell
}

// Cell holds a cell's trimmed text and the href of its first anchor, if any.
type Cell struct {
	Text string
	Href string
}

// Span is a labeled text element identified by its DOM id.
type Span struct {
	ID   string
	Text string
}

// KeyValue is one row of a two-column table. TableIndex disambiguates keys
// repeated across tables on the same page.
type KeyValue struct {
	TableIndex int
	Key        string
	Value      string
}

// TableRows returns the data rows (header skipped) of the first table whose
// id attribute matches pattern. Row order follows the page.
func (d *Document) TableRows(pattern *regexp.Regexp) []Row {
	var rows []Row
	d.doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		id, _ := table.Attr("id")
		if !pattern.MatchString(id) {
			return true
		}
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			if i == 0 {
				return // header
			}
			var row Row
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				cell := Cell{Text: strings.TrimSpace(td.Text())}
				if a := td.Find("a").First(); a.Length() > 0 {
					cell.Href, _ = a.Attr("href")
				}
				row.Cells = append(row.Cells, cell)
			})
			if len(row.Cells) > 0 {
				rows = append(rows, row)
			}
		})
		return false
	})
	return rows
}

// LabeledSpans returns every span carrying an id that contains idFragment,
// with non-empty text, in document order.
func (d *Document) LabeledSpans(idFragment string) []Span {
	var spans []Span
	d.doc.Find("span[id]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		text := strings.TrimSpace(sel.Text())
		if text == "" || !strings.Contains(id, idFragment) {
			return
		}
		spans = append(spans, Span{ID: id, Text: text})
	})
	return spans
}

// TwoColumnRows walks every table on the page and returns the rows that have
// exactly two cells as key/value pairs.
func (d *Document) TwoColumnRows() []KeyValue {
	var pairs []KeyValue
	d.doc.Find("table").Each(func(tableIdx int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td, th")
			if cells.Length() != 2 {
				return
			}
			key := strings.TrimSpace(cells.Eq(0).Text())
			value := strings.TrimSpace(cells.Eq(1).Text())
			if key == "" || value == "" {
				return
			}
			pairs = append(pairs, KeyValue{TableIndex: tableIdx, Key: key, Value: value})
		})
	})
	return pairs
}
