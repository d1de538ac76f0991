package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 200: "200", 404: "404", 429: "429", 503: "503"}
	for n, want := range cases {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRoutePatternFallsBackToPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/no/chi/context", nil)
	if got := routePatternOrPath(r); got != "/no/chi/context" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusRecorderCapturesCode(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rr, status: 200}
	sr.WriteHeader(http.StatusTeapot)
	if sr.status != http.StatusTeapot || rr.Code != http.StatusTeapot {
		t.Fatalf("recorded %d / %d", sr.status, rr.Code)
	}
}

func TestStatusRecorderFlushPassthrough(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rr, status: 200}
	sr.Flush()
	if !rr.Flushed {
		t.Fatal("flush not forwarded")
	}
}

func TestMetricsMiddlewareInvokesNext(t *testing.T) {
	called := false
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called || rr.Code != http.StatusAccepted {
		t.Fatalf("middleware swallowed request: called=%v code=%d", called, rr.Code)
	}
}
