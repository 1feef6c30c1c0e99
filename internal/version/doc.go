// Package version exposes build metadata for distroget.
//
// Version, Commit and BuildTime are injected with ldflags and default to
// values suitable for local builds.
package version
