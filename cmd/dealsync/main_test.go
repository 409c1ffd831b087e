package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/dealsync/internal/logger"
)

// syncBuffer lets the scheduler goroutine and the test share one log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "DEALSYNC_") {
			t.Setenv(name, "")
			if err := os.Unsetenv(name); err != nil {
				t.Fatalf("unset %s: %v", name, err)
			}
		}
	}
}

func testContext(out *syncBuffer) context.Context {
	return logger.WithContext(context.Background(), logger.NewWithWriter(out))
}

// newRemote serves total deals through the count and page queries.
func newRemote(t *testing.T, total int, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(req.Query, "content") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"searchReportWoodDeal": map[string]any{"total": total}},
			})
			return
		}
		size := int(req.Variables["size"].(float64))
		number := int(req.Variables["number"].(float64))
		content := []map[string]any{}
		for i := number * size; i < total && i < (number+1)*size; i++ {
			content = append(content, map[string]any{
				"sellerName":       "OOO Les",
				"sellerInn":        "1111111111",
				"buyerName":        "AO Drevo",
				"buyerInn":         "2222222222",
				"woodVolumeBuyer":  10.5,
				"woodVolumeSeller": 10.5,
				"dealDate":         "2022-06-27",
				"dealNumber":       "D-" + string(rune('A'+i)),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"searchReportWoodDeal": map[string]any{"content": content}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunMissingStoreDSNExitsWithMissingConfig(t *testing.T) {
	clearEnvironment(t)
	out := &syncBuffer{}
	if code := run(testContext(out), nil, out); code != exitMissingConfig {
		t.Fatalf("expected exit %d, got %d (%s)", exitMissingConfig, code, out.String())
	}
}

func TestRunMissingEnvFileExitsWithMissingConfig(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("DEALSYNC_ENV_FILE", t.TempDir()+"/absent.env")
	out := &syncBuffer{}
	if code := run(testContext(out), []string{"--store-dsn", "memory://"}, out); code != exitMissingConfig {
		t.Fatalf("expected exit %d, got %d", exitMissingConfig, code)
	}
}

func TestRunInvalidScheduleExitsWithBadConfig(t *testing.T) {
	clearEnvironment(t)
	out := &syncBuffer{}
	code := run(testContext(out), []string{"--store-dsn", "memory://", "--schedule", "every ten minutes"}, out)
	if code != exitBadConfig {
		t.Fatalf("expected exit %d, got %d", exitBadConfig, code)
	}
	if !strings.Contains(out.String(), "schedule expression is not a valid recurring cadence") {
		t.Fatalf("expected schedule error to be logged, got %s", out.String())
	}
}

func TestRunRejectsBadValues(t *testing.T) {
	cases := map[string][]string{
		"unknown flag":      {"--store-dsn", "memory://", "--no-such-flag"},
		"page size":         {"--store-dsn", "memory://", "--page-size", "0"},
		"log level":         {"--store-dsn", "memory://", "--log-level", "loud"},
		"unsupported store": {"--store-dsn", "redis://localhost:6379"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnvironment(t)
			out := &syncBuffer{}
			if code := run(testContext(out), args, out); code != exitBadConfig {
				t.Fatalf("expected exit %d, got %d (%s)", exitBadConfig, code, out.String())
			}
		})
	}
}

func TestRunOnceIngestsRemoteDeals(t *testing.T) {
	clearEnvironment(t)
	server := newRemote(t, 3, nil)
	out := &syncBuffer{}
	args := []string{"--once", "--store-dsn", "memory://", "--endpoint", server.URL, "--page-size", "2", "--log-format", "json"}

	if code := run(testContext(out), args, out); code != exitOK {
		t.Fatalf("expected exit %d, got %d (%s)", exitOK, code, out.String())
	}
	logs := out.String()
	if !strings.Contains(logs, "ingestion run completed") {
		t.Fatalf("expected completion log, got %s", logs)
	}
	if !strings.Contains(logs, `"inserted":3`) || !strings.Contains(logs, `"pages":2`) {
		t.Fatalf("expected 3 inserted over 2 pages, got %s", logs)
	}
}

func TestRunOnceReportsFailedRun(t *testing.T) {
	clearEnvironment(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	out := &syncBuffer{}
	args := []string{"--once", "--store-dsn", "memory://", "--endpoint", server.URL}

	if code := run(testContext(out), args, out); code != exitRunFailed {
		t.Fatalf("expected exit %d, got %d (%s)", exitRunFailed, code, out.String())
	}
}

func TestRunSchedulerStopsOnCancel(t *testing.T) {
	clearEnvironment(t)
	var requests atomic.Int64
	server := newRemote(t, 1, &requests)
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(testContext(out))
	defer cancel()
	args := []string{"--store-dsn", "memory://", "--endpoint", server.URL, "--schedule", "@hourly", "--log-format", "json"}

	done := make(chan int, 1)
	go func() { done <- run(ctx, args, out) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "ingestion run completed") {
		if time.Now().After(deadline) {
			t.Fatalf("first run did not complete: %s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected exit %d, got %d", exitOK, code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop after cancellation")
	}
	if requests.Load() != 2 {
		t.Fatalf("expected one count and one page request, got %d", requests.Load())
	}
}
