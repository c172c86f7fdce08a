package secureclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/masterclaw/internal/errs"
)

func TestRequestRejectsNonHTTPScheme(t *testing.T) {
	c := New(nil)
	_, err := c.Request(context.Background(), Descriptor{Method: http.MethodGet, URL: "file:///etc/passwd"})
	requireSSRF(t, err)
}

func TestRequestRejectsLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Request(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL})
	requireSSRF(t, err)
}

func TestRequestAllowsLoopbackWhenOptedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(nil)
	resp, err := c.Request(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL, AllowPrivateIPs: true})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRequestRejectsHeaderInjection(t *testing.T) {
	c := New(nil)
	_, err := c.Request(context.Background(), Descriptor{
		Method:          http.MethodGet,
		URL:             "http://127.0.0.1:1",
		AllowPrivateIPs: true,
		Headers:         map[string]string{"X-Evil": "value\r\nX-Injected: true"},
	})
	mcErr, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if mcErr.Code != errs.CodeHeaderInjection {
		t.Fatalf("expected HEADER_INJECTION, got %s", mcErr.Code)
	}
}

func TestRequestEnforcesResponseSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Request(context.Background(), Descriptor{
		Method:           http.MethodGet,
		URL:              srv.URL,
		AllowPrivateIPs:  true,
		MaxResponseBytes: 10,
	})
	mcErr, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if mcErr.Code != errs.CodeResponseTooLarge {
		t.Fatalf("expected RESPONSE_TOO_LARGE, got %s", mcErr.Code)
	}
}

func requireSSRF(t *testing.T, err error) {
	t.Helper()
	mcErr, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if mcErr.Code != errs.CodeSSRFViolation {
		t.Fatalf("expected SSRF_VIOLATION, got %s", mcErr.Code)
	}
}
