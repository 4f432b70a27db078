package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, statusCode int, reason, message, field string) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
		Reason:  reason,
		Field:   field,
	}, statusCode)
}

func writeValidation(w http.ResponseWriter, field, message string) {
	writeError(w, http.StatusBadRequest, ReasonValidation, message, field)
}

// writeFailure maps err to a status code and reason. notFound is the
// reason reported for store.ErrNotFound in this context.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, notFound string) {
	var (
		verr *envelope.ValidationError
		terr *meshbridge.TransportError
		serr *storepkg.StorageError
	)
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr.Field, verr.Error())
	case acl.IsRejected(err):
		writeError(w, http.StatusForbidden, ReasonAclRejected, err.Error(), "")
	case errors.Is(err, storepkg.ErrNotFound):
		if notFound == "" {
			notFound = ReasonNotFound
		}
		writeError(w, http.StatusNotFound, notFound, err.Error(), "")
	case errors.Is(err, storepkg.ErrAclOverlap):
		writeError(w, http.StatusConflict, ReasonAclOverlap, err.Error(), "")
	case errors.Is(err, meshbridge.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, ReasonTransportUnavailable, err.Error(), "")
	case errors.As(err, &terr):
		writeError(w, http.StatusBadGateway, ReasonTransport, err.Error(), "")
	case errors.Is(err, meshnode.ErrNotStarted), errors.Is(err, meshnode.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ReasonNodeUnavailable, err.Error(), "")
	case errors.As(err, &serr):
		logger.Error("storage failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ReasonStorage, "storage failure", "")
	default:
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ReasonInternal, err.Error(), "")
	}
}
