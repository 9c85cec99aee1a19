package wiserep

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Download pairs a spectrum filename with the URL it is fetched from.
type Download struct {
	Filename string
	URL      string
}

// Haul is the working set of spectra collected for one event. It holds the
// event metadata table and the download set side by side; every mutation
// goes through Add or Remove so the two always share the same keys.
type Haul struct {
	order   []string
	records map[string]SpectrumRecord
	urls    map[string]string
}

// NewHaul returns an empty Haul.
func NewHaul() *Haul {
	return &Haul{
		records: make(map[string]SpectrumRecord),
		urls:    make(map[string]string),
	}
}

// Add inserts rec keyed by its filename. Re-adding a filename replaces the
// record and keeps its original position.
func (h *Haul) Add(rec SpectrumRecord) {
	if _, ok := h.records[rec.Filename]; !ok {
		h.order = append(h.order, rec.Filename)
	}
	h.records[rec.Filename] = rec
	h.urls[rec.Filename] = rec.URL
}

// Remove deletes filename from both the metadata table and the download set.
func (h *Haul) Remove(filename string) bool {
	if _, ok := h.records[filename]; !ok {
		return false
	}
	delete(h.records, filename)
	delete(h.urls, filename)
	for i, name := range h.order {
		if name == filename {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of spectra in the haul.
func (h *Haul) Len() int {
	return len(h.order)
}

// Filenames returns the keys in insertion order.
func (h *Haul) Filenames() []string {
	return append([]string(nil), h.order...)
}

// Record looks up the metadata for filename.
func (h *Haul) Record(filename string) (SpectrumRecord, bool) {
	rec, ok := h.records[filename]
	return rec, ok
}

// Records returns the metadata table in insertion order.
func (h *Haul) Records() []SpectrumRecord {
	out := make([]SpectrumRecord, 0, len(h.order))
	for _, name := range h.order {
		if rec, ok := h.records[name]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Downloads returns the download set in insertion order.
func (h *Haul) Downloads() []Download {
	out := make([]Download, 0, len(h.order))
	for _, name := range h.order {
		if u, ok := h.urls[name]; ok {
			out = append(out, Download{Filename: name, URL: u})
		}
	}
	return out
}

// MetadataKeys returns the filenames present in the metadata table.
func (h *Haul) MetadataKeys() []string {
	recs := h.Records()
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Filename
	}
	return keys
}

// DownloadKeys returns the filenames present in the download set.
func (h *Haul) DownloadKeys() []string {
	dls := h.Downloads()
	keys := make([]string, len(dls))
	for i, dl := range dls {
		keys[i] = dl.Filename
	}
	return keys
}

// MarshalJSON encodes the metadata table as an object keyed by filename,
// preserving insertion order.
func (h *Haul) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rec := range h.Records() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalRaw(rec.Filename)
		if err != nil {
			return nil, fmt.Errorf("marshal filename %q: %w", rec.Filename, err)
		}
		val, err := marshalRaw(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %q: %w", rec.Filename, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MetadataJSON renders the README.json document for the haul. Bibcodes
// such as "A&A" are written without HTML escaping.
func (h *Haul) MetadataJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
