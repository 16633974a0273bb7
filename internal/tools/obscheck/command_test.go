package obscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newGrafana(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		for prefix, h := range routes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				h(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func body(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(s)) }
}

func testClient(url string) *grafanaClient {
	return newGrafanaClient(options{grafanaURL: url, grafanaUser: "admin", grafanaPassword: "secret"})
}

func TestLatestExemplarPicksNewestTraceID(t *testing.T) {
	now := time.Now().Unix()
	older := strings.Repeat("a", 32)
	newer := strings.Repeat("b", 32)
	var gotQuery atomic.Value
	srv := newGrafana(t, map[string]http.HandlerFunc{
		mimirProxy: func(w http.ResponseWriter, r *http.Request) {
			gotQuery.Store(r.URL.Query().Get("query"))
			_, _ = fmt.Fprintf(w, `{"data":[{"exemplars":[
				{"labels":{"trace_id":%q},"timestamp":%d},
				{"labels":{"trace_id":%q},"timestamp":%d},
				{"labels":{"trace_id":"short"},"timestamp":%d}
			]}]}`, older, now-30, newer, now-5, now)
		},
	})

	got, err := testClient(srv.URL).latestExemplarTraceID(context.Background(), "http_server_request_duration_seconds_bucket", time.Hour, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != newer {
		t.Fatalf("expected newest trace id, got %q", got)
	}
	if q, _ := gotQuery.Load().(string); q != "http_server_request_duration_seconds_bucket" {
		t.Fatalf("expected metric in query, got %q", q)
	}
}

func TestLatestExemplarIgnoresStaleEntries(t *testing.T) {
	stale := time.Now().Add(-time.Hour).Unix()
	srv := newGrafana(t, map[string]http.HandlerFunc{
		mimirProxy: body(fmt.Sprintf(`{"data":[{"exemplars":[{"labels":{"trace_id":%q},"timestamp":%d}]}]}`, strings.Repeat("c", 32), stale)),
	})

	_, err := testClient(srv.URL).latestExemplarTraceID(context.Background(), "m", 2*time.Hour, time.Now().Add(-time.Minute))
	if !errors.Is(err, errNoExemplar) {
		t.Fatalf("expected errNoExemplar, got %v", err)
	}
}

func TestWaitForTraceRetriesUntilBatchesArrive(t *testing.T) {
	var calls atomic.Int32
	srv := newGrafana(t, map[string]http.HandlerFunc{
		tempoProxy: func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"batches":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"batches":[{"resource":{}}]}`))
		},
	})

	if err := testClient(srv.URL).waitForTrace(context.Background(), strings.Repeat("e", 32), 5, time.Millisecond); err != nil {
		t.Fatalf("wait for trace: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 tempo polls, got %d", calls.Load())
	}
}

func TestFindTraceLogsFallsBackToAnyService(t *testing.T) {
	var selectors []string
	srv := newGrafana(t, map[string]http.HandlerFunc{
		lokiProxy: func(w http.ResponseWriter, r *http.Request) {
			sel := r.URL.Query().Get("query")
			selectors = append(selectors, sel)
			if strings.Contains(sel, `service_name=~".+"`) {
				_, _ = w.Write([]byte(`{"data":{"result":[{"stream":{},"values":[["1","x"]]}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"result":[]}}`))
		},
	})

	if err := testClient(srv.URL).findTraceLogs(context.Background(), "d4l-gateway", strings.Repeat("d", 32)); err != nil {
		t.Fatalf("find logs: %v", err)
	}
	if len(selectors) != 2 || !strings.Contains(selectors[0], `service_name="d4l-gateway"`) {
		t.Fatalf("expected service selector first then fallback, got %v", selectors)
	}
}

func TestGrafanaClientSurfacesAuthFailure(t *testing.T) {
	srv := newGrafana(t, nil)
	g := testClient(srv.URL)
	g.password = "wrong"
	if err := g.getJSON(context.Background(), "/api/health", nil, nil); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}
