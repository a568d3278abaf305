package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elf-memory/elf/internal/apperr"
)

// apiError is the JSON error body shape (spec §7: "{error_code, message,
// fields?}").
type apiError struct {
	status  int
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func invalidRequestErr(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, Code: string(apperr.KindInvalidRequest), Message: message}
}

func scopeDeniedErr(message string) *apiError {
	return &apiError{status: http.StatusForbidden, Code: string(apperr.KindScopeDenied), Message: message}
}

func internalErr(code string) *apiError {
	return &apiError{status: http.StatusInternalServerError, Code: code, Message: "internal error"}
}

// mapError converts a service-layer error into the HTTP status/body the
// boundary returns (spec §6's error-code mapping table: NON_ENGLISH_INPUT
// ->422, INVALID_REQUEST->400, SCOPE_DENIED->403, everything else->500 with
// a generic body so internal failure detail never reaches the caller).
func mapError(err error) *apiError {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return internalErr("INTERNAL")
	}
	switch kind {
	case apperr.KindNonEnglishInput:
		field := ""
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			field = appErr.Field
		}
		return &apiError{status: http.StatusUnprocessableEntity, Code: string(kind), Message: errMessage(err), Field: field}
	case apperr.KindInvalidRequest:
		return &apiError{status: http.StatusBadRequest, Code: string(kind), Message: errMessage(err)}
	case apperr.KindScopeDenied:
		return &apiError{status: http.StatusForbidden, Code: string(kind), Message: errMessage(err)}
	case apperr.KindProvider, apperr.KindStorage, apperr.KindQdrant:
		return internalErr(string(kind))
	default:
		return internalErr("INTERNAL")
	}
}

func errMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func writeAPIError(w http.ResponseWriter, r *http.Request, apiErr *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeAPIError(w, r, mapError(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
