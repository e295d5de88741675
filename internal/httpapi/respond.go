package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kitt-bench/controller/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates a ServiceError to its documented HTTP status (spec
// §7); anything else is an unclassified internal error.
func writeError(w http.ResponseWriter, err error) {
	if se, ok := apperrors.As(err); ok {
		body := map[string]any{"error": se.Message, "code": se.Code}
		if se.Reason != "" {
			body["reason"] = se.Reason
		}
		writeJSON(w, se.HTTPStatus(), body)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// errOut writes err as the HTTP response and records it against
// kitt_errors_total, labelled by its taxonomy code. Handlers use this
// instead of the bare writeError so every error response feeds metrics.
func (s *Server) errOut(w http.ResponseWriter, err error) {
	if s.metrics != nil {
		code := "internal"
		if se, ok := apperrors.As(err); ok {
			code = string(se.Code)
		}
		s.metrics.RecordError(code)
	}
	writeError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// mustJSON marshals v, which must always succeed for the small internal
// payloads this package builds by hand.
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
