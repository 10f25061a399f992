package control

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-master/pkg/errors"
)

func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		code = codes.InvalidArgument
	case errors.ErrorTypeNotFound:
		code = codes.NotFound
	case errors.ErrorTypeDuplicateUnit:
		code = codes.AlreadyExists
	case errors.ErrorTypeConflict, errors.ErrorTypeNotReady:
		code = codes.FailedPrecondition
	case errors.ErrorTypeTimeout:
		code = codes.DeadlineExceeded
	case errors.ErrorTypeNetwork:
		code = codes.Unavailable
	case errors.ErrorTypeCancelled:
		code = codes.Canceled
	case errors.ErrorTypePermission:
		code = codes.PermissionDenied
	case errors.ErrorTypeUnsupported:
		code = codes.Unimplemented
	case errors.ErrorTypeApplication:
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}

// fromStatusError restores the error type the master reported
func fromStatusError(err error, method string) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("call failed", err).WithContext("method", method)
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return errors.NewValidationError(st.Message(), nil)
	case codes.NotFound:
		return errors.NewNotFoundError(st.Message(), nil)
	case codes.AlreadyExists:
		return errors.NewDuplicateUnitError(st.Message(), nil)
	case codes.FailedPrecondition:
		return errors.NewConflictError(st.Message(), nil)
	case codes.PermissionDenied:
		return errors.NewPermissionError(st.Message(), nil)
	case codes.Unimplemented:
		return errors.NewUnsupportedError(st.Message(), nil)
	case codes.Internal:
		return errors.NewInternalError(st.Message(), nil)
	default:
		return classifyError(err, method)
	}
}
