package handler

import (
	"encoding/json"
	"net/http"

	"github.com/moogar0880/problems"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
)

// problemKind maps an error code to the HTTP status and the problem type the
// browser client switches on.
func problemKind(code errors.Code) (int, string) {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest, "validation_error"
	case errors.ErrCodeNotFound:
		return http.StatusNotFound, "not_found"
	case errors.ErrCodePermission:
		return http.StatusForbidden, "permission_denied"
	case errors.ErrCodeState:
		return http.StatusConflict, "state_error"
	case errors.ErrCodeConflict:
		return http.StatusConflict, "conflict"
	case errors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized, "unauthenticated"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError renders err as an RFC 7807 problem document. Internal errors are
// logged with their cause and reported without it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := problemKind(errors.CodeOf(err))
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(kind).
		WithDetail(errors.Message(err))

	w.Header().Set("Content-Type", problems.ProblemMediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
