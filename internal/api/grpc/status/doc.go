// Package status implements the gRPC transport of the status service.
//
// It converts download snapshots and run reports into structpb values and
// serves them through distroget.v1.StatusService.
package status
