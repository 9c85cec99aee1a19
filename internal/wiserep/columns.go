package wiserep

import (
	"errors"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoHeaderRow is returned when a results page lacks the expected header
// row, which happens whenever a search yields nothing to list.
var ErrNoHeaderRow = errors.New("header row not found")

// Header row selectors. The style values are matched verbatim.
const (
	ObjectHeaderSelector   = `tr[style="font-weight:bold"]`
	SpectrumHeaderSelector = `tr[style="color:black; font-size:x-small"]`
)

// Object table labels.
const (
	ColObjName      = "Obj. Name"
	ColIAUName      = "IAUName"
	ColRedshift     = "Redshift"
	ColType         = "Type"
	ColSpectraCount = "No. ofSpectra" // the source renders "No. of<br>Spectra"
)

// Spectrum table labels.
const (
	ColProgram      = "Spec. Prog."
	ColInstrument   = "Instrument"
	ColObserver     = "Observer"
	ColReducer      = "Reducer"
	ColObsDate      = "Obs.date"
	ColFiles        = "Ascii/Fits Files"
	ColPublish      = "Publish"
	ColContrib      = "Contrib"
	ColLastModified = "Last-modified"
	ColModifiedBy   = "Modified-by"
)

// ObjectLabels are located in the object header row.
var ObjectLabels = []string{ColObjName, ColIAUName, ColRedshift, ColType, ColSpectraCount}

// SpectrumLabels are located in the spectrum header row.
var SpectrumLabels = []string{
	ColProgram,
	ColInstrument,
	ColObserver,
	ColReducer,
	ColObsDate,
	ColFiles,
	ColPublish,
	ColContrib,
	ColLastModified,
	ColModifiedBy,
}

// ColumnIndex maps header labels to their cell position within one row kind.
// Labels missing from the header are absent from the index.
type ColumnIndex struct {
	positions map[string]int
}

// LocateColumns maps each of labels to its position in headers using exact
// text equality. When a label repeats, the last occurrence wins.
func LocateColumns(headers []string, labels ...string) ColumnIndex {
	wanted := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		wanted[l] = struct{}{}
	}
	positions := make(map[string]int, len(labels))
	for i, h := range headers {
		if _, ok := wanted[h]; ok {
			positions[h] = i
		}
	}
	return ColumnIndex{positions: positions}
}

// Index returns the position of label.
func (c ColumnIndex) Index(label string) (int, bool) {
	i, ok := c.positions[label]
	return i, ok
}

// Has reports whether label was found.
func (c ColumnIndex) Has(label string) bool {
	_, ok := c.positions[label]
	return ok
}

// Len returns the number of labels found.
func (c ColumnIndex) Len() int {
	return len(c.positions)
}

// Cell returns the text of the cell under label. It returns false when the
// label is unknown or the row is shorter than the header.
func (c ColumnIndex) Cell(cells *goquery.Selection, label string) (string, bool) {
	i, ok := c.positions[label]
	if !ok || cells == nil || i >= cells.Length() {
		return "", false
	}
	return cells.Eq(i).Text(), true
}

// CellOrEmpty is Cell without the presence flag.
func (c ColumnIndex) CellOrEmpty(cells *goquery.Selection, label string) string {
	text, _ := c.Cell(cells, label)
	return text
}

// HeaderCells returns the td texts of the first row matching selector.
func HeaderCells(doc *goquery.Selection, selector string) ([]string, error) {
	row := doc.Find(selector).First()
	if row.Length() == 0 {
		return nil, ErrNoHeaderRow
	}
	return row.Find("td").Map(func(_ int, td *goquery.Selection) string {
		return td.Text()
	}), nil
}

// LocateHeader finds the header row matching selector and indexes labels.
func LocateHeader(doc *goquery.Selection, selector string, labels ...string) (ColumnIndex, error) {
	headers, err := HeaderCells(doc, selector)
	if err != nil {
		return ColumnIndex{}, err
	}
	return LocateColumns(headers, labels...), nil
}
