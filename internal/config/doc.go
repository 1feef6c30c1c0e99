// Package config defines the distroget settings document and the file-backed
// Store the update orchestrator reads from and records versions into.
//
// Settings are YAML. Load and Save validate the document with struct tags and
// fill defaults for omitted tuning values.
package config
