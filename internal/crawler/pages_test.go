package crawler

import (
	"fmt"
	"strings"
)

type pageSpectrum struct {
	program  string
	obsDate  string
	file     string
	lastMod  string
	observer string
	// anchor and href override the link text and target derived from file.
	anchor string
	href   string
}

type pageObject struct {
	name    string
	typ     string
	count   string
	spectra []pageSpectrum
}

func objectsPage(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><form action="/objects/list" method="post">`)
	b.WriteString(`<input name="name" value=""><input name="rowslimit" value="50">`)
	b.WriteString(`<select name="objid"><option>Select Option</option>`)
	for _, n := range names {
		fmt.Fprintf(&b, "<option>%s</option>", n)
	}
	b.WriteString(`</select></form></body></html>`)
	return b.String()
}

func resultsPage(objects ...pageObject) string {
	var b strings.Builder
	b.WriteString(`<html><body><table>`)
	b.WriteString(`<tr style="font-weight:bold"><td></td><td>Obj. Name</td><td>IAUName</td>` +
		`<td>Redshift</td><td>Type</td><td>No. of<br>Spectra</td></tr>`)
	for _, obj := range objects {
		fmt.Fprintf(&b, `<tr><td><form target="new"></form></td><td>%s</td><td></td>`+
			`<td>0.01</td><td>%s</td><td>%s</td></tr>`, obj.name, obj.typ, obj.count)
		b.WriteString(`<tr><td colspan="6"><table>`)
		b.WriteString(`<tr style="color:black; font-size:x-small"><td>Spec. Prog.</td><td>Instrument</td>` +
			`<td>Observer</td><td>Reducer</td><td>Obs.date</td><td>Ascii/Fits Files</td><td>Publish</td>` +
			`<td>Contrib</td><td>Last-modified</td><td>Modified-by</td></tr>`)
		for _, s := range obj.spectra {
			link := ""
			if s.file != "" || s.href != "" {
				href, anchor := "/spectra/"+s.file, s.file
				if s.href != "" {
					href = s.href
				}
				if s.anchor != "" {
					anchor = s.anchor
				}
				link = fmt.Sprintf(`<a href="%s">%s</a>`, href, anchor)
			}
			observer := s.observer
			if observer == "" {
				observer = "Smith"
			}
			fmt.Fprintf(&b, `<tr valign="top"><td>%s</td><td>NOT/ALFOSC</td><td>%s</td><td></td>`+
				`<td>%s</td><td>%s</td><td>2013A%%26A...1P</td><td>Smith et al.</td><td>%s</td><td>ofer</td></tr>`,
				s.program, observer, s.obsDate, link, s.lastMod)
		}
		b.WriteString(`</table></td></tr>`)
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

func spectrumURL(file string) string {
	return "https://wiserep.test/spectra/" + file
}
