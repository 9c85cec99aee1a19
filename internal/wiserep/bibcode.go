package wiserep

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// A conference volume cited on WISeREP without a bibcode; the override maps
// it to the ADS entry used by the catalog.
const (
	ruizLapuenteContrib = "Ruiz-Lapuente, et al. 1997, Thermonuclear Supernovae. Dordrecht: Kluwer"
	ruizLapuenteBibcode = "1997Obs...117..312R"
	ruizLapuenteShort   = "Ruiz-Lapuente et al. 1997"
)

// NormalizeCitation cleans the Publish and Contrib cells of a spectrum row.
// The bibcode is NFKD-normalized; a known contributor string is replaced by
// its hard-coded citation, otherwise URL-escaped ampersands are decoded.
func NormalizeCitation(bibcode, contributor string) (string, string) {
	bibcode = norm.NFKD.String(bibcode)
	if contributor == ruizLapuenteContrib {
		return ruizLapuenteBibcode, ruizLapuenteShort
	}
	if strings.Contains(bibcode, "%26") {
		bibcode = strings.ReplaceAll(bibcode, "%26", "&")
	}
	return bibcode, contributor
}
