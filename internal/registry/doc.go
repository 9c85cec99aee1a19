// Package registry persists the names the crawler has already decided on:
// events excluded for their type and events completed during the current
// pass over the catalog.
package registry
