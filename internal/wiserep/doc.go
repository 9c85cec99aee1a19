// Package wiserep extracts event and spectrum metadata from WISeREP search
// result pages and reconciles competing spectrum files for one event.
//
// The package is pure: it consumes parsed goquery documents and returns
// values. Fetching pages, writing files and persisting decisions belong to
// the crawler package.
package wiserep
