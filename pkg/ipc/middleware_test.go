package ipc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSMiddleware(t *testing.T) {
	cases := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		credentials string
	}{
		{"wildcard", []string{"*"}, "https://dash.example.com", "*", ""},
		{"explicit", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000", "true"},
		{"explicit wins over wildcard", []string{"*", "http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000", "true"},
		{"rejected", []string{"http://localhost:3000"}, "https://evil.example.com", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{cfg: Config{AllowedOrigins: tc.allowed}}
			handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			req.Header.Set("Origin", tc.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.credentials, rr.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	s := &Server{}
	handler := s.securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
}

func TestOriginPatternsStripScheme(t *testing.T) {
	s := &Server{cfg: Config{AllowedOrigins: []string{"*", "http://localhost:3000", " ", "https://dash.example.com"}}}
	assert.Equal(t, []string{"*", "localhost:3000", "dash.example.com"}, s.originPatterns())
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=query-tok", nil)
	assert.Equal(t, "query-tok", extractBearerToken(req))

	req.Header.Set("Authorization", "Bearer header-tok")
	assert.Equal(t, "header-tok", extractBearerToken(req))
}
