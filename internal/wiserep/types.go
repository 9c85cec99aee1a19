package wiserep

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// ReductionStatus describes how mature a spectrum's reduction is.
type ReductionStatus string

// Reduction statuses inferred from filename conventions.
const (
	StatusRapid ReductionStatus = "rapid"
	StatusFinal ReductionStatus = "final"
)

// CandidateRecord is one object row returned by a search.
type CandidateRecord struct {
	Name         string
	IAUName      string
	Type         string
	Redshift     string
	TotalSpectra string
	// Spectra holds the tr[valign=top] rows listed under the object.
	Spectra *goquery.Selection
}

// HasSpectra reports whether the object's spectrum count cell announces at
// least one spectrum. The cell is padded with non-breaking spaces.
func (c CandidateRecord) HasSpectra() bool {
	count := strings.TrimSpace(norm.NFKD.String(c.TotalSpectra))
	return count != "" && count != "0"
}

// SpectrumRecord is the metadata kept for one public spectrum file. The JSON
// field order is the order written to the event's README.json.
type SpectrumRecord struct {
	Filename string `json:"-"`
	URL      string `json:"-"`

	Type            string          `json:"Type"`
	Redshift        string          `json:"Redshift"`
	ObsDate         string          `json:"Obs. Date"`
	Program         string          `json:"Program"`
	Contributor     string          `json:"Contributor"`
	Bibcode         string          `json:"Bibcode"`
	Instrument      string          `json:"Instrument"`
	Observer        string          `json:"Observer"`
	Reducer         string          `json:"Reducer"`
	ReductionStatus ReductionStatus `json:"Reduction Status"`
	LastModified    string          `json:"Last Modified"`
	ModifiedBy      string          `json:"Modified By"`
}
