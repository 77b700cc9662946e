package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuthRequiresTokenAndUser(t *testing.T) {
	handler := RequestID(Auth("secret")(echoUser()))

	cases := []struct {
		name   string
		header map[string]string
		target string
		status int
		body   string
	}{
		{"missing token", map[string]string{"X-User-Id": "u1"}, "/v1/analyses", http.StatusUnauthorized, ""},
		{"wrong token", map[string]string{"Authorization": "Bearer nope", "X-User-Id": "u1"}, "/v1/analyses", http.StatusUnauthorized, ""},
		{"missing user", map[string]string{"Authorization": "Bearer secret"}, "/v1/analyses", http.StatusUnauthorized, ""},
		{"header identity", map[string]string{"Authorization": "Bearer secret", "X-User-Id": "u1"}, "/v1/analyses", http.StatusOK, "u1"},
		{"query identity", nil, "/v1/sessions/transcript?access_token=secret&user_id=u2", http.StatusOK, "u2"},
		{"public route", nil, "/healthz", http.StatusOK, ""},
	}

	for _, tc := range cases {
		request := httptest.NewRequest(http.MethodGet, tc.target, nil)
		for key, value := range tc.header {
			request.Header.Set(key, value)
		}
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)

		if recorder.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, recorder.Code)
		}
		if tc.status == http.StatusOK && recorder.Body.String() != tc.body {
			t.Fatalf("%s: expected user %q, got %q", tc.name, tc.body, recorder.Body.String())
		}
	}
}

func TestAuthWithoutTokenStillResolvesUser(t *testing.T) {
	handler := Auth("")(echoUser())
	request := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	request.Header.Set("X-User-Id", "u9")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK || recorder.Body.String() != "u9" {
		t.Fatalf("expected u9 with status 200, got %q status %d", recorder.Body.String(), recorder.Code)
	}
}

func TestRateLimitKeysByUser(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	handler := Auth("")(RateLimit(1, 1, stop)(echoUser()))

	send := func(user string) int {
		request := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
		request.Header.Set("X-User-Id", user)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder.Code
	}

	if code := send("u1"); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := send("u1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request from u1 to be limited, got %d", code)
	}
	if code := send("u2"); code != http.StatusOK {
		t.Fatalf("expected u2 to have its own bucket, got %d", code)
	}
}
