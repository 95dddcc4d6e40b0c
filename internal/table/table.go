// Package table decodes the catalog's game table, whether it arrived as
// rendered DOM or as a DataTables JSON payload, into raw game records.
package table

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoTable is returned by FromHTML when the document has no game table.
var ErrNoTable = errors.New("no data table in document")

// RowSelector matches rendered rows of the game table.
const RowSelector = "table.dataTable tbody tr"

// Column describes one column of the table.
type Column struct {
	Title string // header text
	Key   string // data-s attribute or DataTables column data name
}

// Row is one table row. Cells hold inner HTML.
type Row struct {
	Cells []string
	AppID string // data-appid on the row, when present
}

// Table is a decoded page of the game table.
type Table struct {
	Columns []Column
	Rows    []Row
	// Placeholder is set when the table rendered its "no data" row.
	Placeholder bool
}

// Len reports the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// FromHTML extracts the game table from a rendered document. Placeholder rows
// ("No data available", "Loading...") are skipped.
func FromHTML(html string) (*Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tbl := doc.Find("table.dataTable").First()
	if tbl.Length() == 0 {
		tbl = doc.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("tbody tr").Length() > 0
		}).First()
	}
	if tbl.Length() == 0 {
		return nil, ErrNoTable
	}

	t := &Table{}
	tbl.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		key, _ := th.Attr("data-s")
		t.Columns = append(t.Columns, Column{Title: cleanText(th.Text()), Key: key})
	})

	tbl.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.ChildrenFiltered("td")
		if tds.Length() == 0 {
			return
		}
		if isPlaceholder(tds) {
			t.Placeholder = true
			return
		}
		row := Row{}
		row.AppID, _ = tr.Attr("data-appid")
		tds.Each(func(_ int, td *goquery.Selection) {
			inner, _ := td.Html()
			row.Cells = append(row.Cells, cellHTML(td, inner))
		})
		t.Rows = append(t.Rows, row)
	})

	return t, nil
}

// cellHTML keeps the cell's data-s attribute visible to the decoder.
func cellHTML(td *goquery.Selection, inner string) string {
	if key, ok := td.Attr("data-s"); ok {
		return fmt.Sprintf(`<span data-s=%q>%s</span>`, key, inner)
	}
	return inner
}

func isPlaceholder(tds *goquery.Selection) bool {
	if tds.Length() != 1 {
		return false
	}
	td := tds.First()
	return td.HasClass("dataTables_empty") || td.HasClass("dt-empty") || td.AttrOr("colspan", "") != ""
}

// Fingerprint identifies the visible rows. Two renders of the same page have
// the same fingerprint; a page change almost always alters it.
func (t *Table) Fingerprint() string {
	h := fnv.New64a()
	if t != nil {
		for _, r := range t.Rows {
			h.Write([]byte(r.AppID))
			for _, c := range r.Cells {
				h.Write([]byte(cellText(c)))
				h.Write([]byte{0x1f})
			}
			h.Write([]byte{0x1e})
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// FingerprintHTML parses html and fingerprints its game table. An empty or
// missing table fingerprints as "".
func FingerprintHTML(html string) string {
	t, err := FromHTML(html)
	if err != nil || t.Len() == 0 {
		return ""
	}
	return t.Fingerprint()
}

func cellText(cell string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cell))
	if err != nil {
		return cleanText(cell)
	}
	return cleanText(doc.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
