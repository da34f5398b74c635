package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"tellmewhen/internal/logging"
)

const cacheControlNoStore = "no-store, must-revalidate"

// Error codes returned in errorResponse.Code.
const (
	codeInvalidRequest   = "invalid_request"
	codeInvalidLimit     = "invalid_limit"
	codeInvalidLevel     = "invalid_level"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeMethodNotAllowed = "method_not_allowed"
	codeUnavailable      = "service_unavailable"
	codeInternal         = "internal_error"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return codeInvalidRequest
	case status == http.StatusUnauthorized:
		return codeUnauthorized
	case status == http.StatusNotFound:
		return codeNotFound
	case status == http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	case status == http.StatusServiceUnavailable:
		return codeUnavailable
	case status >= http.StatusInternalServerError:
		return codeInternal
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// restHandler wraps a JSON endpoint with the bearer token check and renders
// a returned apiError as an errorResponse. Server errors are logged.
func restHandler(token string, logger *logging.Logger, handler apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("Cache-Control", cacheControlNoStore)

		var err *apiError
		if !validateToken(r, token) {
			err = &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"}
		} else {
			err = handler(w, r)
		}
		if err == nil {
			return
		}
		code := err.Code
		if code == "" {
			code = codeForStatus(err.Status)
		}
		if err.Status >= http.StatusInternalServerError {
			logger.Error("api request failed", logging.Fields{
				"path":   r.URL.Path,
				"status": strconv.Itoa(err.Status),
				"error":  err.Message,
			})
		}
		writeJSON(w, err.Status, errorResponse{Message: err.Message, Code: code})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !logger.Enabled(logging.LevelDebug) {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logger.Debug("api request", logging.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   strconv.Itoa(recorder.status),
			"duration": time.Since(started).String(),
		})
	})
}
