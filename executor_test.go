package hyperhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/lmousom/hyperhttp/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestExecutorSendOverHTTP1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	exec := NewRequestExecutor(WithExecutorHTTP2(false))
	u, err := url.Parse(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	req := core.NewRequest("GET", u, map[string][]string{}, nil)

	resp, err := exec.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("expected body %q, got %q", "pong", body)
	}
}

func TestRequestExecutorReusesConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewRequestExecutor(WithExecutorHTTP2(false))
	u, _ := url.Parse(srv.URL + "/")

	for i := 0; i < 3; i++ {
		req := core.NewRequest("GET", u, map[string][]string{}, nil)
		resp, err := exec.Send(context.Background(), req)
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		resp.Body.Close()
	}

	key, err := hostKeyFor(u)
	if err != nil {
		t.Fatalf("hostKeyFor: %v", err)
	}
	stats := exec.pool.Stats()
	if stats.TotalLive == 0 {
		t.Error("expected at least one live connection tracked")
	}
	_ = key
}

func TestRequestExecutorRecordsConnectionMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mc := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	exec := NewRequestExecutor(WithExecutorHTTP2(false), WithExecutorMetrics(mc))
	u, _ := url.Parse(srv.URL + "/")
	key, err := hostKeyFor(u)
	if err != nil {
		t.Fatalf("hostKeyFor: %v", err)
	}
	host := hostKeyString(key)

	for i := 0; i < 3; i++ {
		req := core.NewRequest("GET", u, map[string][]string{}, nil)
		resp, err := exec.Send(context.Background(), req)
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		resp.Body.Close()
	}

	if created := testutil.ToFloat64(mc.connectionsCreated.WithLabelValues(host, "h1")); created != 1 {
		t.Errorf("expected exactly 1 connection created, got %v", created)
	}
	if reused := testutil.ToFloat64(mc.connectionsReused.WithLabelValues(host, "h1")); reused != 2 {
		t.Errorf("expected 2 connection reuses, got %v", reused)
	}
}

func TestRequestExecutorViaClientFacade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(WithRequestExecutor(NewRequestExecutor(WithExecutorHTTP2(false))))
	resp, err := client.Get(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected %q, got %q", "ok", body)
	}
}
