package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/convert"
	"github.com/talkmate/companion/internal/errs"
)

// CredentialsDetail is the single message for every authentication failure.
const CredentialsDetail = "Could not validate credentials"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, convert.ErrorResponse{Detail: detail})
}

// writeUnauthorized answers 401 the same way whatever the cause.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, CredentialsDetail)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrStorageUnavailable), errors.Is(err, errs.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError replies with the status for err. Internal details of
// unexpected errors are logged, not sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	switch code {
	case http.StatusUnauthorized:
		writeUnauthorized(w)
		return
	case http.StatusBadRequest:
		writeDetail(w, code, err.Error())
		return
	case http.StatusConflict:
		writeDetail(w, code, "Username already registered")
		return
	case http.StatusTooManyRequests:
		writeDetail(w, code, "Too many failed login attempts, try again later")
		return
	}
	s.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", code),
		zap.Error(err),
	)
	writeDetail(w, code, http.StatusText(code))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("malformed JSON body: %v", err)
	}
	return nil
}
