// Package race holds the domain types shared by the acquisition and scheduling
// packages: schedule rows, entry records, scrape log entries, the venue table,
// identifier derivation and the interfaces every collaborator implements.
//
// Nothing in this package performs I/O. Concrete fetchers, parsers, stores and
// publishers live in their own packages and are wired together by
// internal/server.
package race
