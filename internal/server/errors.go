package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"PerpRisk/internal/riskerr"
)

// ErrorBody is the JSON error payload of the HTTP surface.
type ErrorBody struct {
	Code     uint32 `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error"`
}

// badRequest marks request decoding and binding failures.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func invalid(err error) error { return badRequest{err: err} }

// grpcCode maps an operation error onto a gRPC status code.
func grpcCode(err error) codes.Code {
	var br badRequest
	if errors.As(err, &br) {
		return codes.InvalidArgument
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	code, ok := riskerr.CodeOf(err)
	if !ok {
		return codes.Internal
	}
	switch code {
	case riskerr.PositionNotFound, riskerr.MarketNotFound, riskerr.OracleFeedNotFound:
		return codes.NotFound
	case riskerr.AlreadyInitialized:
		return codes.AlreadyExists
	case riskerr.Unauthorized, riskerr.UnauthorizedAccess:
		return codes.PermissionDenied
	case riskerr.MarketPaused, riskerr.ProtocolPaused, riskerr.EmergencyPauseActive, riskerr.CircuitBreakerTriggered:
		return codes.Unavailable
	case riskerr.InvalidParameters, riskerr.InvalidClosePercentage, riskerr.InvalidStopLoss, riskerr.InvalidPrice:
		return codes.InvalidArgument
	}
	if code.IsRecoverable() {
		return codes.Unavailable
	}
	switch code.Category() {
	case riskerr.CategoryMath:
		return codes.InvalidArgument
	case riskerr.CategoryAccess:
		return codes.PermissionDenied
	case riskerr.CategoryProtocol, riskerr.CategoryMarket:
		if code == riskerr.InvalidMarketParameters || code == riskerr.InvalidProtocolConfig {
			return codes.InvalidArgument
		}
		return codes.FailedPrecondition
	default:
		return codes.FailedPrecondition
	}
}

// httpStatus maps a gRPC code onto the HTTP status of the JSON surface.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ErrorDomain is the ErrorInfo domain of RiskEngine status details.
const ErrorDomain = "perprisk.v1"

// toStatus converts an operation error for the gRPC surface. Domain errors
// carry an ErrorInfo detail with the code name, number and category.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	c := grpcCode(err)
	if c == codes.Internal {
		// Infrastructure detail stays in the logs.
		return status.Error(c, "internal error")
	}
	st := status.New(c, err.Error())
	code, ok := riskerr.CodeOf(err)
	if !ok {
		return st.Err()
	}
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: code.Name(),
		Domain: ErrorDomain,
		Metadata: map[string]string{
			"code":     strconv.FormatUint(uint64(code), 10),
			"category": code.Category().String(),
		},
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Error: err.Error()}
	if code, ok := riskerr.CodeOf(err); ok {
		body.Code = uint32(code)
		body.Name = code.Name()
		body.Category = code.Category().String()
	}
	return body
}

func writeError(w http.ResponseWriter, err error) int {
	st := httpStatus(grpcCode(err))
	if st == http.StatusInternalServerError {
		// Infrastructure detail stays in the logs.
		err = errors.New("internal error")
	}
	writeJSON(w, st, errorBody(err))
	return st
}

func writeJSON(w http.ResponseWriter, st int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(st)
	json.NewEncoder(w).Encode(v)
}
