// Package release contains the domain model of an update run:
// per-distribution outcomes, deployment results and the run report.
package release
