package pagesource

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const listingHTML = `
<html><body>
<table id="other_table"><tr><td>noise</td></tr></table>
<table id="ctl00_gdvschDistricts">
  <tr><th>Select</th><th>Code</th><th>Name</th></tr>
  <tr>
    <td><a href="ProjectList.aspx?ClientId=101">Select</a></td>
    <td>41-001</td>
    <td>Alpha Unified</td>
  </tr>
  <tr>
    <td>no link here</td>
    <td>41-002</td>
    <td>Beta Union</td>
  </tr>
</table>
</body></html>`

const detailHTML = `
<html><body>
<span id="ctl00_MainContent_lblestamt">$500,000</span>
<span id="ctl00_MainContent_lblpname">Gym Modernization</span>
<span id="unrelated_span">skip me</span>
<span id="ctl00_MainContent_lblempty"></span>
<table><tr><td>Received Date</td><td>2024-01-15</td></tr></table>
<table>
  <tr><td>a</td><td>b</td><td>c</td></tr>
  <tr><td>Approved Date</td><td>2024-02-20</td></tr>
</table>
</body></html>`

func TestTableRows(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(strings.NewReader(listingHTML))
	require.NoError(t, err)

	rows := doc.TableRows(regexp.MustCompile(`gdvsch`))
	require.Len(t, rows, 2, "header row skipped, data rows kept")

	require.Len(t, rows[0].Cells, 3)
	require.Equal(t, "ProjectList.aspx?ClientId=101", rows[0].Cells[0].Href)
	require.Equal(t, "41-001", rows[0].Cells[1].Text)
	require.Equal(t, "Alpha Unified", rows[0].Cells[2].Text)

	require.Equal(t, "", rows[1].Cells[0].Href, "row without anchor has empty href")
}

func TestTableRowsNoMatch(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(strings.NewReader(listingHTML))
	require.NoError(t, err)
	require.Empty(t, doc.TableRows(regexp.MustCompile(`does_not_exist`)))
}

func TestLabeledSpans(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(strings.NewReader(detailHTML))
	require.NoError(t, err)

	spans := doc.LabeledSpans("MainContent")
	require.Len(t, spans, 2, "unrelated and empty spans excluded")
	require.Equal(t, "ctl00_MainContent_lblestamt", spans[0].ID)
	require.Equal(t, "$500,000", spans[0].Text)
	require.Equal(t, "Gym Modernization", spans[1].Text)
}

func TestTwoColumnRows(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(strings.NewReader(detailHTML))
	require.NoError(t, err)

	pairs := doc.TwoColumnRows()
	require.Len(t, pairs, 2, "three-cell rows excluded")
	require.Equal(t, "Received Date", pairs[0].Key)
	require.Equal(t, "2024-01-15", pairs[0].Value)
	require.Equal(t, "Approved Date", pairs[1].Key)
	require.NotEqual(t, pairs[0].TableIndex, pairs[1].TableIndex)
}
