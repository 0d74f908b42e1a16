package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// notFoundError wraps err as a gRPC NotFound status for an unmatched
// program_expr.
func notFoundError(err error) error {
	return status.Error(codes.NotFound, err.Error())
}
