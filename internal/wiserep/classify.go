package wiserep

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// asciiLink selects spectrum links to plain-text files; FITS files are
// ignored.
var asciiLink = regexp.MustCompile(`\.(flm|dat|asc|asci|ascii|txt|sp|spec)$`)

// DefaultExcludedPrograms are surveys already ingested from their own
// releases.
var DefaultExcludedPrograms = []string{
	"HIRES",
	"SUSPECT",
	"BSNIP",
	"CSP",
	"UCB-SNDB",
	"CfA-Ia",
	"CfA-Ibc",
	"CfA-Stripped",
	"SNfactory",
}

// rapidPrefixes are filename prefixes written by rapid classification
// pipelines. The list is kept long rather than collapsed to "t"/"f" so
// each pipeline stays visible.
var rapidPrefixes = []string{
	"tPSN",
	"tPS",
	"tLSQ",
	"tGaia",
	"tATLAS",
	"tASASSN",
	"tSMT",
	"tCATA",
	"tSNhunt",
	"tSNHunt",
	"fSNhunt",
	"tSNHiTS",
	"tCSS",
	"tSSS",
	"tCHASE",
	"tSN",
	"tAT",
	"fPSN",
	"PHASE",
}

// IsASCIILink reports whether href points at a plain-text spectrum file.
func IsASCIILink(href string) bool {
	return asciiLink.MatchString(href)
}

// ReductionStatusOf infers the reduction status of filename for event.
func ReductionStatusOf(event, filename string) ReductionStatus {
	if strings.HasPrefix(filename, "t"+event) {
		return StatusRapid
	}
	for _, prefix := range rapidPrefixes {
		if strings.HasPrefix(filename, prefix) {
			return StatusRapid
		}
	}
	return StatusFinal
}

// Classification summarizes the spectrum rows of one candidate.
type Classification struct {
	Haul *Haul
	// Public counts rows with a downloadable file, including rows dropped
	// for their program.
	Public int
	// Private counts rows without a downloadable file.
	Private int
	// SkippedPrograms lists the program of every row dropped by program.
	SkippedPrograms []string
	// Unresolved lists hrefs that could not be turned into a URL or a
	// usable file name. Such rows count as neither public nor private.
	Unresolved []string
}

// Classifier turns spectrum rows into SpectrumRecords.
type Classifier struct {
	excluded map[string]struct{}
}

// NewClassifier builds a Classifier that drops rows whose program is listed
// in excludedPrograms.
func NewClassifier(excludedPrograms []string) *Classifier {
	excluded := make(map[string]struct{}, len(excludedPrograms))
	for _, p := range excludedPrograms {
		excluded[p] = struct{}{}
	}
	return &Classifier{excluded: excluded}
}

// Excludes reports whether program is on the exclusion list.
func (c *Classifier) Excludes(program string) bool {
	_, ok := c.excluded[program]
	return ok
}

// Classify walks the candidate's spectrum rows. base resolves relative file
// links; it may be nil when links are absolute.
func (c *Classifier) Classify(event string, base *url.URL, cand CandidateRecord, cols ColumnIndex) Classification {
	out := Classification{Haul: NewHaul()}
	if cand.Spectra == nil {
		return out
	}
	cand.Spectra.Each(func(_ int, row *goquery.Selection) {
		link := fileLink(row)
		if link == nil {
			out.Private++
			return
		}
		href, _ := link.Attr("href")
		dl, err := resolveLink(base, href)
		if err != nil {
			out.Unresolved = append(out.Unresolved, href)
			return
		}

		cells := row.Find("td")
		program := cols.CellOrEmpty(cells, ColProgram)
		if c.Excludes(program) {
			out.Public++
			out.SkippedPrograms = append(out.SkippedPrograms, program)
			return
		}

		filename, ok := spectrumFilename(link.Text(), dl)
		if !ok {
			out.Unresolved = append(out.Unresolved, href)
			return
		}
		bibcode, contrib := NormalizeCitation(
			cols.CellOrEmpty(cells, ColPublish),
			cols.CellOrEmpty(cells, ColContrib),
		)
		out.Haul.Add(SpectrumRecord{
			Filename:        filename,
			URL:             dl,
			Type:            cand.Type,
			Redshift:        cand.Redshift,
			ObsDate:         cols.CellOrEmpty(cells, ColObsDate),
			Program:         program,
			Contributor:     contrib,
			Bibcode:         bibcode,
			Instrument:      cols.CellOrEmpty(cells, ColInstrument),
			Observer:        cols.CellOrEmpty(cells, ColObserver),
			Reducer:         cols.CellOrEmpty(cells, ColReducer),
			ReductionStatus: ReductionStatusOf(event, filename),
			LastModified:    cols.CellOrEmpty(cells, ColLastModified),
			ModifiedBy:      cols.CellOrEmpty(cells, ColModifiedBy),
		})
		out.Public++
	})
	return out
}

func fileLink(row *goquery.Selection) *goquery.Selection {
	link := row.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return IsASCIILink(href)
	}).First()
	if link.Length() == 0 {
		return nil
	}
	return link
}

// spectrumFilename prefers the link text and falls back to the last path
// segment of the download URL. Either must be a single, non-empty path
// segment since it becomes a file in the event directory.
func spectrumFilename(text, dl string) (string, bool) {
	if name := strings.TrimSpace(text); validFilename(name) {
		return name, true
	}
	u, err := url.Parse(dl)
	if err != nil {
		return "", false
	}
	name := path.Base(u.Path)
	return name, validFilename(name)
}

func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

func resolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return "", fmt.Errorf("href %q is not absolute", href)
	}
	return ref.String(), nil
}
