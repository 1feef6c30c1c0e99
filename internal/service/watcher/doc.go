// Package watcher implements the long-running daemon: it runs the updater on
// a schedule and serves the gRPC status service and the HTTP endpoints
// alongside it.
package watcher
