package wiserep

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

type fixtureObject struct {
	name     string
	iau      string
	redshift string
	typ      string
	count    string
	spectra  []fixtureSpectrum
}

type fixtureSpectrum struct {
	program    string
	instrument string
	observer   string
	reducer    string
	obsDate    string
	file       string
	publish    string
	contrib    string
	lastMod    string
	modBy      string
	// anchor replaces the file link text when set.
	anchor string
}

const objectHeaderHTML = `<tr style="font-weight:bold"><td></td><td>Obj. Name</td><td>IAUName</td>` +
	`<td>Redshift</td><td>Type</td><td>No. of<br>Spectra</td></tr>`

const spectrumHeaderHTML = `<tr style="color:black; font-size:x-small"><td>Spec. Prog.</td>` +
	`<td>Instrument</td><td>Observer</td><td>Reducer</td><td>Obs.date</td><td>Ascii/Fits Files</td>` +
	`<td>Publish</td><td>Contrib</td><td>Last-modified</td><td>Modified-by</td></tr>`

func renderResults(advisory bool, objects ...fixtureObject) string {
	var b strings.Builder
	b.WriteString("<html><body><table>")
	b.WriteString(objectHeaderHTML)
	for _, obj := range objects {
		fmt.Fprintf(&b, `<tr><td><form target="new" action="/object"></form></td>`+
			`<td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			obj.name, obj.iau, obj.redshift, obj.typ, obj.count)
		if advisory {
			b.WriteString(`<tr><td colspan="6"><span style="color:darkred; font-size:small"> Potential matching IAU-Name/s:</span></td></tr>`)
		}
		b.WriteString(`<tr><td colspan="6"><table>`)
		b.WriteString(spectrumHeaderHTML)
		for _, s := range obj.spectra {
			files := ""
			if s.file != "" {
				anchor := s.file
				if s.anchor != "" {
					anchor = s.anchor
				}
				files = fmt.Sprintf(`<a href="/spectra/%s.fits">fits</a> <a href="/spectra/%s">%s</a>`,
					s.file, s.file, anchor)
			}
			fmt.Fprintf(&b, `<tr valign="top"><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td>`+
				`<td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				s.program, s.instrument, s.observer, s.reducer, s.obsDate,
				files, s.publish, s.contrib, s.lastMod, s.modBy)
		}
		b.WriteString(`</table></td></tr>`)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func parseFixture(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func objectColumns(t *testing.T, doc *goquery.Selection) ColumnIndex {
	t.Helper()
	cols, err := LocateHeader(doc, ObjectHeaderSelector, ObjectLabels...)
	require.NoError(t, err)
	return cols
}

func spectrumColumns(t *testing.T, doc *goquery.Selection) ColumnIndex {
	t.Helper()
	cols, err := LocateHeader(doc, SpectrumHeaderSelector, SpectrumLabels...)
	require.NoError(t, err)
	return cols
}

func sn2011fe(spectra ...fixtureSpectrum) fixtureObject {
	return fixtureObject{
		name:     "SN2011fe",
		iau:      "2011fe",
		redshift: "0.000804",
		typ:      "SN Ia",
		count:    fmt.Sprintf("%d", len(spectra)),
		spectra:  spectra,
	}
}
