// Package checkpoint stores crawl state so an interrupted crawl can resume.
//
// A State records, per target, the cursor of every pagination context
// (the top-level comments and each reply thread), the flat list of
// comments captured so far and the run status. States are written after
// every merged page.
//
// Two backends are available:
//   - FileStore: one JSON file per target, replaced atomically on save
//   - SQLiteStore: one row per target in a local SQLite database
//
// A state that cannot be decoded, has another format version or fails
// validation is reported in the log and treated as absent, so the crawl
// starts fresh instead of failing.
package checkpoint
