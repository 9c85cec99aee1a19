package wiserep

import (
	"github.com/PuerkitoBio/goquery"
)

// Page structure selectors for search results.
const (
	CandidateSelector   = `form[target="new"]`
	SpectrumRowSelector = `tr[valign="top"]`
	AdvisorySelector    = `span[style="color:darkred; font-size:small"]`
	// AdvisoryText marks the extra "alternate name" block that sits between
	// an object row and its spectra.
	AdvisoryText = " Potential matching IAU-Name/s:"
)

// MatchKind classifies the result of matching a search page to a name.
type MatchKind int

// Match outcomes.
const (
	NoMatch MatchKind = iota
	Matched
	Anomaly
)

func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Anomaly:
		return "anomaly"
	default:
		return "no_match"
	}
}

// MatchResult is the outcome of MatchCandidate. Candidate is only meaningful
// when Kind is Matched; an Anomaly carries the matched fields but no spectra.
type MatchResult struct {
	Kind      MatchKind
	Candidate CandidateRecord
	// Blocks is the number of candidate blocks on the page.
	Blocks int
	// Advisory reports whether the alternate-name block was present.
	Advisory bool
}

// HasAdvisory reports whether the page shows the alternate-name advisory.
func HasAdvisory(doc *goquery.Selection) bool {
	return doc.Find(AdvisorySelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Text() == AdvisoryText
	}).Length() > 0
}

// MatchCandidate picks the candidate block whose name cell equals name
// exactly, first in page order, and locates its spectrum rows.
func MatchCandidate(doc *goquery.Selection, name string, cols ColumnIndex) MatchResult {
	blocks := doc.Find(CandidateSelector)
	res := MatchResult{
		Kind:     NoMatch,
		Blocks:   blocks.Length(),
		Advisory: HasAdvisory(doc),
	}

	var row *goquery.Selection
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		tr := block.Closest("tr")
		cells := tr.Find("td")
		if got, ok := cols.Cell(cells, ColObjName); !ok || got != name {
			return true
		}
		row = tr
		res.Candidate = candidateFromCells(cells, cols)
		return false
	})
	if row == nil {
		return res
	}

	holder := row.Next()
	if res.Advisory {
		holder = holder.Next()
	}
	spectra := holder.Find(SpectrumRowSelector)
	if holder.Length() == 0 || spectra.Length() == 0 {
		res.Kind = Anomaly
		return res
	}
	res.Candidate.Spectra = spectra
	res.Kind = Matched
	return res
}

// CandidateNames returns the name cell of every candidate block in page order.
func CandidateNames(doc *goquery.Selection, cols ColumnIndex) []string {
	var names []string
	doc.Find(CandidateSelector).Each(func(_ int, block *goquery.Selection) {
		if name, ok := cols.Cell(block.Closest("tr").Find("td"), ColObjName); ok && name != "" {
			names = append(names, name)
		}
	})
	return names
}

func candidateFromCells(cells *goquery.Selection, cols ColumnIndex) CandidateRecord {
	return CandidateRecord{
		Name:         cols.CellOrEmpty(cells, ColObjName),
		IAUName:      cols.CellOrEmpty(cells, ColIAUName),
		Type:         cols.CellOrEmpty(cells, ColType),
		Redshift:     cols.CellOrEmpty(cells, ColRedshift),
		TotalSpectra: cols.CellOrEmpty(cells, ColSpectraCount),
	}
}
