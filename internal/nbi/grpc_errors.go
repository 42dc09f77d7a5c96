package nbi

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/fabric-controller/model"
)

var (
	// ErrNotFound is used when a switch or table cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is used when an optional component was not configured.
	ErrUnavailable = errors.New("unavailable")
)

func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, model.ErrUnknownHost),
		errors.Is(err, model.ErrNoRoute):
		return codes.NotFound

	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument

	case errors.Is(err, model.ErrTopologyInconsistent):
		return codes.FailedPrecondition

	case errors.Is(err, model.ErrDuplicateGroup):
		return codes.AlreadyExists

	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// ToStatusError maps controller errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(statusCode(err), err.Error())
}

// HTTPStatus maps controller errors onto REST status codes.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := statusCode(err)
	if s, ok := status.FromError(err); ok {
		code = s.Code()
	}
	switch code {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
