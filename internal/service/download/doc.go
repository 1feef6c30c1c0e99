// Package download implements the bounded worker pool that fetches release
// artifacts over HTTP.
//
// A Manager owns a FIFO queue of tasks, a fixed number of workers and a
// status snapshot. Transient failures are retried with exponential backoff up
// to a per-URL budget; permanent failures are recorded on first occurrence.
// Every URL ends up either completed or failed, never both.
package download
