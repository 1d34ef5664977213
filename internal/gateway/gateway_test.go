package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enclave/internal/aggregate"
	"enclave/internal/audit"
	"enclave/internal/auth"
	"enclave/internal/blob"
	"enclave/internal/config"
	"enclave/internal/metrics"
)

type fixture struct {
	cfg      config.Config
	server   *httptest.Server
	exporter *aggregate.Exporter
	auditLog audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpusDir, 0o750); err != nil {
		t.Fatalf("mkdir corpus: %v", err)
	}
	content := []byte(`{"id":"rec-1","kind":"baseline"}` + "\n" + `{"id":"rec-2","kind":"baseline"}` + "\n")
	corpusPath := filepath.Join(corpusDir, "core.jsonl")
	if err := os.WriteFile(corpusPath, content, 0o640); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	sum := sha256.Sum256(content)
	hashPath := filepath.Join(corpusDir, "core.sha256")
	if err := os.WriteFile(hashPath, []byte(hex.EncodeToString(sum[:])+"\n"), 0o640); err != nil {
		t.Fatalf("write hash: %v", err)
	}
	nsRoot := filepath.Join(dir, "namespaces")
	if err := os.MkdirAll(nsRoot, 0o750); err != nil {
		t.Fatalf("mkdir namespaces: %v", err)
	}

	cfg := config.Config{
		Listen:         "127.0.0.1:0",
		DataDir:        dir,
		NamespacesRoot: nsRoot,
		Corpus:         config.CorpusConfig{Path: corpusPath, HashPath: hashPath},
		Tokens:         map[string]string{"alpha": "token-alpha", "beta": "token-beta"},
	}
	gate, err := auth.NewGate(cfg.Tokens)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	auditLog := audit.NewMemoryLog()
	exporter := aggregate.NewExporter(aggregate.Aggregator{NamespacesRoot: nsRoot}, blob.NewMemory(), auditLog)
	exporter.Start(1)
	t.Cleanup(exporter.Stop)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := New(cfg, gate, exporter, auditLog, metrics.New(), logger)
	server := httptest.NewServer(gw.Router())
	t.Cleanup(server.Close)

	return &fixture{cfg: cfg, server: server, exporter: exporter, auditLog: auditLog}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode %s %s body %q: %v", method, path, raw, err)
		}
	}
	return resp, payload
}

func TestHealthNeedsNoCredential(t *testing.T) {
	f := newFixture(t)
	resp, payload := f.do(t, http.MethodGet, "/v1/health", "", "")
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("unexpected health response %d %v", resp.StatusCode, payload)
	}
}

func TestAuthenticationGate(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"unknown", "not-a-token"},
		{"wrong-principal-secret", "token-alph"},
	}
	for _, tc := range cases {
		resp, payload := f.do(t, http.MethodGet, "/v1/core/hash", tc.token, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.StatusCode)
		}
		if payload["error"] != "unauthorized" {
			t.Fatalf("%s: unexpected body %v", tc.name, payload)
		}
	}
}

func TestCorpusHashAndRecords(t *testing.T) {
	f := newFixture(t)
	resp, payload := f.do(t, http.MethodGet, "/v1/core/hash", "token-alpha", "")
	if resp.StatusCode != http.StatusOK || payload["matches"] != true {
		t.Fatalf("unexpected hash response %d %v", resp.StatusCode, payload)
	}

	resp, payload = f.do(t, http.MethodGet, "/v1/core/records", "token-alpha", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("records: expected 200, got %d", resp.StatusCode)
	}
	if payload["count"] != float64(2) {
		t.Fatalf("expected 2 records, got %v", payload)
	}
}

func TestTamperedCorpusIsReportedAndBlocksReads(t *testing.T) {
	f := newFixture(t)
	fh, err := os.OpenFile(f.cfg.Corpus.Path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatalf("open corpus: %v", err)
	}
	if _, err := fh.WriteString(`{"id":"rec-3","kind":"injected"}` + "\n"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := fh.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	resp, payload := f.do(t, http.MethodGet, "/v1/core/hash", "token-alpha", "")
	if resp.StatusCode != http.StatusOK || payload["matches"] != false {
		t.Fatalf("expected mismatch report, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = f.do(t, http.MethodGet, "/v1/core/records", "token-alpha", "")
	if resp.StatusCode != http.StatusInternalServerError || payload["error"] != "integrity_violation" {
		t.Fatalf("expected integrity_violation, got %d %v", resp.StatusCode, payload)
	}

	events, err := f.auditLog.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	found := false
	for _, event := range events {
		if event.Kind == audit.KindIntegrity {
			found = true
		}
	}
	if !found {
		t.Fatalf("integrity violation not audited: %+v", events)
	}
}

func TestAppendAndAggregateRoundTrip(t *testing.T) {
	f := newFixture(t)
	body := `{"projection":{"state":"S3","confidence":0.8},"note":"first"}`
	resp, payload := f.do(t, http.MethodPost, "/v1/agents/alpha/entries", "token-alpha", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append: expected 201, got %d %v", resp.StatusCode, payload)
	}
	if payload["written"] != float64(1) {
		t.Fatalf("unexpected append response %v", payload)
	}

	resp, payload = f.do(t, http.MethodGet, "/v1/aggregate", "token-beta", "")
	if resp.StatusCode != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("aggregate: expected 1 entry, got %d %v", resp.StatusCode, payload)
	}
	entries := payload["entries"].([]any)
	entry := entries[0].(map[string]any)
	if entry["namespace"] != "alpha" {
		t.Fatalf("entry not tagged with its namespace: %v", entry)
	}
}

func TestAppendBatchArray(t *testing.T) {
	f := newFixture(t)
	body := `[{"projection":{"state":"S1"}},{"projection":{"state":"S7"}}]`
	resp, payload := f.do(t, http.MethodPost, "/v1/agents/alpha/entries", "token-alpha", body)
	if resp.StatusCode != http.StatusCreated || payload["written"] != float64(2) {
		t.Fatalf("batch append: got %d %v", resp.StatusCode, payload)
	}
}

func TestCrossNamespaceWriteForbidden(t *testing.T) {
	f := newFixture(t)
	body := `{"projection":{"state":"S2"}}`
	resp, payload := f.do(t, http.MethodPost, "/v1/agents/beta/entries", "token-alpha", body)
	if resp.StatusCode != http.StatusForbidden || payload["error"] != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %v", resp.StatusCode, payload)
	}

	// The refusal must happen before any byte reaches beta's namespace.
	if _, err := os.Stat(filepath.Join(f.cfg.NamespacesRoot, "beta")); !os.IsNotExist(err) {
		t.Fatalf("beta namespace touched by a forbidden write: %v", err)
	}

	events, err := f.auditLog.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) == 0 || events[0].Kind != audit.KindForbidden || events[0].Principal != "alpha" || events[0].Namespace != "beta" {
		t.Fatalf("forbidden write not audited: %+v", events)
	}
}

func TestCrossNamespaceWriteForbiddenBeforeBodyRead(t *testing.T) {
	f := newFixture(t)
	// A malformed body must not downgrade the refusal to a client error.
	resp, payload := f.do(t, http.MethodPost, "/v1/agents/beta/entries", "token-alpha", "not json")
	if resp.StatusCode != http.StatusForbidden || payload["error"] != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %v", resp.StatusCode, payload)
	}
}

func TestSchemaViolationRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	body := `[{"projection":{"state":"S1"}},{"projection":{"state":"S9"}}]`
	resp, payload := f.do(t, http.MethodPost, "/v1/agents/alpha/entries", "token-alpha", body)
	if resp.StatusCode != http.StatusBadRequest || payload["error"] != "schema_violation" {
		t.Fatalf("expected schema_violation, got %d %v", resp.StatusCode, payload)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.NamespacesRoot, "alpha")); !os.IsNotExist(err) {
		t.Fatalf("rejected batch must leave no trace: %v", err)
	}
}

func TestAppendRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"", "not json", `[]`, `"string"`} {
		resp, payload := f.do(t, http.MethodPost, "/v1/agents/alpha/entries", "token-alpha", body)
		if resp.StatusCode != http.StatusBadRequest || payload["error"] != "bad_request" {
			t.Fatalf("body %q: expected bad_request, got %d %v", body, resp.StatusCode, payload)
		}
	}
}

func TestAppendRejectsPathStructuredNamespace(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/v1/agents/..%2fescape/entries", "token-alpha", `{"projection":{"state":"S1"}}`)
	if resp.StatusCode == http.StatusCreated {
		t.Fatalf("path-structured namespace id must not be writable")
	}
}

func TestExportLifecycle(t *testing.T) {
	f := newFixture(t)
	if resp, payload := f.do(t, http.MethodPost, "/v1/agents/alpha/entries", "token-alpha", `{"projection":{"state":"S5"}}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed append: %d %v", resp.StatusCode, payload)
	}

	resp, payload := f.do(t, http.MethodPost, "/v1/aggregate/exports", "token-alpha", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("export create: expected 202, got %d %v", resp.StatusCode, payload)
	}
	job := payload["export"].(map[string]any)
	id := job["id"].(string)
	if job["requested_by"] != "alpha" {
		t.Fatalf("export must record its requester: %v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, payload = f.do(t, http.MethodGet, "/v1/aggregate/exports/"+id, "token-alpha", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("export get: %d %v", resp.StatusCode, payload)
		}
		job = payload["export"].(map[string]any)
		if job["status"] == string(aggregate.StatusSucceeded) {
			break
		}
		if job["status"] == string(aggregate.StatusFailed) {
			t.Fatalf("export failed: %v", job)
		}
		if time.Now().After(deadline) {
			t.Fatalf("export did not complete: %v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job["entry_count"] != float64(1) {
		t.Fatalf("unexpected snapshot size: %v", job)
	}

	resp, payload = f.do(t, http.MethodGet, "/v1/aggregate/exports/absent", "token-alpha", "")
	if resp.StatusCode != http.StatusNotFound || payload["error"] != "not_found" {
		t.Fatalf("expected not_found for unknown export, got %d %v", resp.StatusCode, payload)
	}
}

func TestAuditEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/agents/beta/entries", "token-alpha", `{"projection":{"state":"S1"}}`)

	resp, payload := f.do(t, http.MethodGet, "/v1/audit", "token-alpha", "")
	if resp.StatusCode != http.StatusOK || payload["count"] != float64(1) {
		t.Fatalf("audit: expected 1 event, got %d %v", resp.StatusCode, payload)
	}
	events := payload["events"].([]any)
	event := events[0].(map[string]any)
	if event["kind"] != string(audit.KindForbidden) {
		t.Fatalf("unexpected event %v", event)
	}

	resp, payload = f.do(t, http.MethodGet, "/v1/audit?limit=zero", "token-alpha", "")
	if resp.StatusCode != http.StatusBadRequest || payload["error"] != "bad_request" {
		t.Fatalf("expected bad_request for malformed limit, got %d %v", resp.StatusCode, payload)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	f := newFixture(t)
	// A counter vector exports no series until a request completes.
	f.do(t, http.MethodGet, "/v1/health", "", "")

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(raw), "enclave_requests_total") {
		t.Fatalf("request counter missing from exposition")
	}
}
