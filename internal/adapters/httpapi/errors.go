package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
	log "github.com/sirupsen/logrus"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/images"
)

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(map[string]any(details))
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

// writeAppError maps application errors to their HTTP status. Anything else
// is logged and reported as a 500 without leaking the cause.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if ae := (*images.Error)(nil); errors.As(err, &ae) {
		writeAPIError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	log.WithFields(log.Fields{
		"requestID": middleware.GetReqID(r.Context()),
		"method":    r.Method,
		"path":      r.URL.Path,
		"error":     err,
	}).Error("Request failed.")
	writeAPIError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
