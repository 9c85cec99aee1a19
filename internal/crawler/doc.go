// Package crawler drives the WISeREP mirror: it walks the object list one
// event at a time, searches each name, extracts and deduplicates public
// spectra, and hands files and metadata to the configured mirror.
package crawler
