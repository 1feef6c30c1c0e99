// Package report persists the report of the last update run.
//
// The FileRepository stores the report as protobuf JSON of a structpb.Struct,
// the same shape the status API serves.
package report
