package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShared_SingletonAcrossCalls(t *testing.T) {
	Reset()
	a := Shared()
	b := Shared()
	if a != b {
		t.Error("Shared() should return the same *http.Client on repeated calls")
	}
}

func TestShared_ConnectionPoolSettings(t *testing.T) {
	Reset()
	c := Shared()
	transport, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if transport.MaxIdleConnsPerHost <= 0 {
		t.Error("expected a positive per-host idle connection pool")
	}
}

func TestShared_ActuallySendsRequests(t *testing.T) {
	Reset()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := Shared().Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body, err := ReadBody(resp)
	if err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected body %q", body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
