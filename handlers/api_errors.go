package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/gallerydelivery/apperrors"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	writeAPIErrors(w, httpStatus, []APIErrorDetail{{
		Code:   code,
		Status: strconv.Itoa(httpStatus),
		Detail: detail,
	}})
}

func writeAPIErrors(w http.ResponseWriter, httpStatus int, details []APIErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(APIErrorResponse{Errors: details})
}

// fieldErrorer is implemented by validation errors that carry per-field failures.
type fieldErrorer interface {
	Fields() []apperrors.FieldError
}

// writeAppError maps err onto the error taxonomy and writes it. internal errors are logged
// with their cause; the client only sees the generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.From(err)
	status := appErr.HTTPCode()
	if status >= http.StatusInternalServerError {
		log.Printf("handlers: %s %s failed: %v", r.Method, r.URL.Path, err)
	}

	detail := appErr.Message()
	if d := appErr.Details(); d != "" {
		detail = detail + ": " + d
	}

	if fe, ok := appErr.(fieldErrorer); ok && len(fe.Fields()) > 0 {
		details := make([]APIErrorDetail, 0, len(fe.Fields()))
		for _, f := range fe.Fields() {
			details = append(details, APIErrorDetail{
				Code:   appErr.ErrorCode(),
				Status: strconv.Itoa(status),
				Detail: f.Message,
				Field:  f.Field,
			})
		}
		writeAPIErrors(w, status, details)
		return
	}
	WriteAPIError(w, status, appErr.ErrorCode(), detail)
}
