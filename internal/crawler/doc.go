// Package crawler defines the data model and collaborator interfaces shared by
// the frontier, fetchers, coordinator, and pipeline.
package crawler
