// Package common holds helpers shared by several commands.
//
// It provides a gRPC client for the watch daemon's status service and a
// helper detecting the current system actor (hostname/username) recorded in
// run reports.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
