package ipc

import (
	"encoding/json"
	stdliberrors "errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	response := struct {
		Error       string   `json:"error"`
		Status      int      `json:"status"`
		Code        string   `json:"code,omitempty"`
		Message     string   `json:"message"`
		Details     string   `json:"details,omitempty"`
		Remediation []string `json:"remediation,omitempty"`
		Retryable   bool     `json:"retryable,omitempty"`
		Timestamp   string   `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var appErr *apperrors.Error
	if stdliberrors.As(err, &appErr) {
		response.Code = string(appErr.Code)
		if appErr.UserMessage != "" {
			response.Message = appErr.UserMessage
		} else if appErr.Message != "" {
			response.Message = appErr.Message
		}
		response.Remediation = append([]string(nil), appErr.Remediation...)
		response.Retryable = appErr.Retryable
		response.Details = appErr.Error()
	} else if err != nil {
		response.Message = err.Error()
	}
	if len(response.Remediation) == 0 {
		response.Remediation = defaultRemediation(response.Code, status)
	}
	response.Error = response.Message
	_ = json.NewEncoder(w).Encode(response)
}

// statusForError maps an error code to the HTTP status it is reported with.
func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case apperrors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeProxyPoolExhausted:
		return http.StatusConflict
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// defaultRemediation provides remediation steps for common errors.
func defaultRemediation(code string, status int) []string {
	switch apperrors.ErrorCode(code) {
	case apperrors.ErrCodeProxyPoolExhausted:
		return []string{
			"Add proxies to the proxy file or request fewer sessions.",
			"Start the run without use_proxies to use the local connection.",
		}
	case apperrors.ErrCodeInvalidInput:
		return []string{"Check the request body against the documented fields."}
	}

	switch status {
	case http.StatusUnauthorized:
		return []string{
			"Send a bearer token minted with `parallel-sessions token`.",
			"Check that the server and the token share the same auth secret.",
		}
	case http.StatusServiceUnavailable:
		return []string{"Close an idle dashboard tab and reconnect."}
	default:
		return []string{"Check the server logs and retry."}
	}
}

// extractBearerToken reads a bearer token from the Authorization header, or
// from the token query parameter for websocket clients that cannot set headers.
func extractBearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
