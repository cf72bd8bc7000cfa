// Package storage writes crawl output to disk.
//
// Manager persists finished records as indented JSON files named after
// the post and the time of the crawl. Archive keeps the raw API responses
// for offline debugging, either every response or only failed ones,
// trimmed to a maximum file count and total size.
//
// All writes go through a temporary file that is renamed into place, so a
// reader never observes a partially written file.
package storage
