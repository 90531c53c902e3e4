package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	corsHandler := CORS([]string{"http://localhost:5173", "https://support.finbuddy.app"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}))

	tests := []struct {
		name       string
		origin     string
		method     string
		wantOrigin string
	}{
		{"dev dashboard", "http://localhost:5173", http.MethodGet, "http://localhost:5173"},
		{"production frontend", "https://support.finbuddy.app", http.MethodPost, "https://support.finbuddy.app"},
		{"unknown origin", "https://somewhere-else.example", http.MethodGet, ""},
		{"preflight", "http://localhost:5173", http.MethodOptions, "http://localhost:5173"},
		{"no origin header", "", http.MethodGet, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/cases", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}

			rec := httptest.NewRecorder()
			corsHandler.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if got != tt.wantOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.wantOrigin, got)
			}
		})
	}
}

func TestCORSAllowsCredentials(t *testing.T) {
	corsHandler := CORS([]string{"http://localhost:5173"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	corsHandler.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials to be allowed")
	}
}
