// Package v1 declares the distroget.v1.StatusService gRPC API.
//
// Messages are protobuf well-known types: requests are empty and responses
// are google.protobuf.Struct values, so no generated message code is needed.
package v1
