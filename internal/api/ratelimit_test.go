package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestRateLimitMiddlewarePerSession(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// No refill to speak of within the test: burst of 2, then rejections.
	h := RateLimitMiddleware(rate.Limit(0.001), 2)(next)

	do := func(session string) int {
		r := httptest.NewRequest(http.MethodPost, "/v1/leases", nil)
		if session != "" {
			r.Header.Set("X-Session-ID", session)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if got := do("s1"); got != http.StatusOK {
		t.Fatalf("first request = %d, want 200", got)
	}
	if got := do("s1"); got != http.StatusOK {
		t.Fatalf("second request = %d, want 200", got)
	}
	if got := do("s1"); got != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", got)
	}

	// Another session has its own bucket.
	if got := do("s2"); got != http.StatusOK {
		t.Fatalf("other session = %d, want 200", got)
	}

	// Requests without a session header pass through.
	if got := do(""); got != http.StatusOK {
		t.Fatalf("sessionless request = %d, want 200", got)
	}
}
