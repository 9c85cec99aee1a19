package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/wiserep"
)

// objectOptionSelector lists every object name on the objects page. The
// first option is the "Select Option" placeholder.
const objectOptionSelector = `select[name="objid"] option`

// HostIndex maps an event name to the filename of its host-galaxy spectrum.
type HostIndex map[string]string

// ObjectNames returns the names offered by the objects page, in page order
// and without duplicates.
func ObjectNames(doc *goquery.Selection) []string {
	seen := make(map[string]struct{})
	var names []string
	doc.Find(objectOptionSelector).Each(func(i int, opt *goquery.Selection) {
		if i == 0 {
			return
		}
		names = appendUnique(names, seen, opt.Text())
	})
	return names
}

// ParseHostIndex reads a host catalog page: a table whose header row holds
// "Obj. Name" and "Ascii/Fits Files", followed by tr[valign=top] rows. The
// first row for a name wins.
func ParseHostIndex(doc *goquery.Selection) HostIndex {
	index := make(HostIndex)
	var cols wiserep.ColumnIndex
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		headers := row.ChildrenFiltered("td").Map(func(_ int, td *goquery.Selection) string {
			return td.Text()
		})
		cols = wiserep.LocateColumns(headers, wiserep.ColObjName, wiserep.ColFiles)
		return cols.Len() != 2
	})
	if cols.Len() != 2 {
		return index
	}
	doc.Find(wiserep.SpectrumRowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		name := cols.CellOrEmpty(cells, wiserep.ColObjName)
		if name == "" {
			return
		}
		if _, ok := index[name]; ok {
			return
		}
		idx, _ := cols.Index(wiserep.ColFiles)
		if idx >= cells.Length() {
			return
		}
		var file string
		cells.Eq(idx).Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if wiserep.IsASCIILink(href) {
				file = a.Text()
				return false
			}
			return true
		})
		if file != "" {
			index[name] = file
		}
	})
	return index
}

// loadHostIndex fetches the host catalog when one is configured.
func (e *Engine) loadHostIndex(ctx context.Context) (HostIndex, error) {
	if e.cfg.HostCatalogURL == "" {
		return HostIndex{}, nil
	}
	doc, err := e.web.Open(ctx, e.cfg.HostCatalogURL)
	if err != nil {
		return nil, fmt.Errorf("open host catalog: %w", err)
	}
	index := ParseHostIndex(doc.Selection)
	e.logger.Info("host spectrum index loaded", zap.Int("events", len(index)))
	return index, nil
}

// eventNames opens the objects page, which also primes the search form, and
// returns the names this run should visit.
func (e *Engine) eventNames(ctx context.Context) ([]string, error) {
	doc, err := e.web.Open(ctx, e.cfg.ObjectsURL)
	if err != nil {
		return nil, fmt.Errorf("open objects page: %w", err)
	}
	switch e.cfg.Mode() {
	case ModeSingle:
		return []string{e.cfg.Event}, nil
	case ModeUpdate:
		return e.recentNames(ctx)
	default:
		names := ObjectNames(doc.Selection)
		e.logger.Info("grabbed list of events", zap.Int("events", len(names)))
		return names, nil
	}
}

// recentNames submits an empty-name search restricted to recently modified
// objects and collects the name of every returned object.
func (e *Engine) recentNames(ctx context.Context) ([]string, error) {
	values := url.Values{}
	values.Set("name", "")
	values.Set(e.cfg.RecentDaysField, strconv.Itoa(e.cfg.Days))
	if e.cfg.RowsLimit > 0 {
		values.Set("rowslimit", strconv.Itoa(e.cfg.RowsLimit))
	}
	doc, err := e.web.Submit(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("search recent objects: %w", err)
	}
	cols, err := wiserep.LocateHeader(doc.Selection, wiserep.ObjectHeaderSelector, wiserep.ObjectLabels...)
	if errors.Is(err, wiserep.ErrNoHeaderRow) {
		e.logger.Info("no objects modified recently", zap.Int("days", e.cfg.Days))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, name := range wiserep.CandidateNames(doc.Selection, cols) {
		names = appendUnique(names, seen, name)
	}
	e.logger.Info("grabbed recently modified events", zap.Int("events", len(names)), zap.Int("days", e.cfg.Days))
	return names, nil
}

func appendUnique(names []string, seen map[string]struct{}, name string) []string {
	if name == "" {
		return names
	}
	if _, ok := seen[name]; ok {
		return names
	}
	seen[name] = struct{}{}
	return append(names, name)
}
