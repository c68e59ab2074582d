package gateway

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorBody{Error: kind, Message: msg})
}

// writeStatusError renders a grpc status error with its HTTP equivalent.
func writeStatusError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	code, kind := httpStatus(st.Code())
	msg := st.Message()
	if st.Code() == codes.Internal || st.Code() == codes.Unknown {
		msg = "internal error"
	}
	writeErrorJSON(w, code, kind, msg)
}

func httpStatus(c codes.Code) (int, string) {
	switch c {
	case codes.Unauthenticated:
		return http.StatusUnauthorized, "unauthenticated"
	case codes.PermissionDenied:
		return http.StatusForbidden, "permission_denied"
	case codes.InvalidArgument:
		return http.StatusBadRequest, "invalid_argument"
	case codes.NotFound:
		return http.StatusNotFound, "not_found"
	case codes.FailedPrecondition:
		return http.StatusConflict, "failed_precondition"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
