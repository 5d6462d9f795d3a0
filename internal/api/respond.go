package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/resilience"
	"github.com/sells-group/market-signals/internal/store"
)

const maxBodyBytes = 8 << 20

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case resilience.IsValidation(err):
		return http.StatusBadRequest
	case resilience.IsConflict(err):
		return http.StatusConflict
	case resilience.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	class := resilience.Classify(err)
	if errors.Is(err, store.ErrNotFound) {
		class = "not_found"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("class", class),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Class: class})
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return resilience.NewValidationError("body", eris.Wrap(err, "api: decode request body"))
	}
	return nil
}
