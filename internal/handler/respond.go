// Package handler provides HTTP handlers for the netting services.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"debtloop/pkg/errors"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidation(w http.ResponseWriter, fields map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "Validation failed",
		"fields": fields,
	})
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
// It writes the error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrCompanyNotFound),
		stderrors.Is(err, errors.ErrPositionNotFound),
		stderrors.Is(err, errors.ErrLoopNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrCounterpartyNotFound),
		stderrors.Is(err, errors.ErrSelfObligation),
		stderrors.Is(err, errors.ErrMalformedPosition):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrCompanyAlreadyExists),
		stderrors.Is(err, errors.ErrLoopNotPending),
		stderrors.Is(err, errors.ErrLoopInvalidated),
		stderrors.Is(err, errors.ErrAlreadyResponded),
		stderrors.Is(err, errors.ErrDuplicateRequest):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrNotParticipant):
		return http.StatusForbidden
	case stderrors.Is(err, errors.ErrInsufficientTokens):
		return http.StatusPaymentRequired
	case stderrors.Is(err, errors.ErrLoopExpired):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with its mapped status. Internal errors are
// not echoed to the client.
func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, err.Error())
}
