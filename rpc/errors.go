package rpc

import (
	"errors"

	"github.com/mohitkumar/mediaflow/persistence"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func localized(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

// toStatus maps store and service errors to grpc status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var exists persistence.AlreadyExistsError
	var storage persistence.StorageLayerError
	switch {
	case persistence.IsNotFound(err):
		return localized(codes.NotFound, err.Error()).Err()
	case errors.As(err, &exists):
		return localized(codes.AlreadyExists, err.Error()).Err()
	case persistence.IsVersionConflict(err):
		return localized(codes.Aborted, err.Error()).Err()
	case errors.As(err, &storage):
		return localized(codes.Internal, "error in underline storage layer").Err()
	default:
		return localized(codes.InvalidArgument, err.Error()).Err()
	}
}
