// Package http serves the HTTP endpoints of the watch daemon: health, the
// live download status, the last run report, Prometheus metrics and a
// manual run trigger.
package http
