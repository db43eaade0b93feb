package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/mailbox"
	"github.com/teleprompt/teleprompt/pkg/payload"
)

const testKey = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *mailbox.Mailbox) {
	t.Helper()
	box := mailbox.New()
	srv := New(config.ServerConfig{APIKey: testKey}, box)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, box
}

func doRequest(t *testing.T, method, url, key string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(body.String()) != "OK" {
		t.Fatalf("expected OK body, got %q", body.String())
	}
}

func TestUploadThenFetch(t *testing.T) {
	ts, _ := newTestServer(t)

	before := time.Now().UnixMilli()
	up := doRequest(t, http.MethodPost, ts.URL+"/upload", testKey,
		[]byte(`{"text":"hello","timestamp":1000}`))
	if up.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", up.StatusCode)
	}
	var upBody payload.UploadResponse
	if err := json.NewDecoder(up.Body).Decode(&upBody); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if !upBody.OK {
		t.Fatal("upload response should be ok")
	}

	fetch := doRequest(t, http.MethodGet, ts.URL+"/fetch", testKey, nil)
	var result payload.FetchResponse
	if err := json.NewDecoder(fetch.Body).Decode(&result); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	if !result.Found || result.Payload == nil {
		t.Fatalf("expected found payload, got %+v", result)
	}
	if result.Payload.Text != "hello" {
		t.Fatalf("expected text hello, got %q", result.Payload.Text)
	}
	// Timestamp is stamped server-side, superseding the client's 1000.
	if result.Payload.Timestamp < before {
		t.Fatalf("expected server timestamp >= %d, got %d", before, result.Payload.Timestamp)
	}

	again := doRequest(t, http.MethodGet, ts.URL+"/fetch", testKey, nil)
	var empty payload.FetchResponse
	if err := json.NewDecoder(again.Body).Decode(&empty); err != nil {
		t.Fatalf("decode second fetch: %v", err)
	}
	if empty.Found {
		t.Fatal("second fetch should report found=false")
	}
}

func TestFetchWithoutUpload(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/fetch", testKey, nil)
	var result payload.FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode fetch: %v", err)
	}
	if result.Found {
		t.Fatal("fetch with no prior upload should report found=false")
	}
}

func TestAuthGate(t *testing.T) {
	ts, box := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		key    string
	}{
		{"upload missing key", http.MethodPost, "/upload", ""},
		{"upload wrong key", http.MethodPost, "/upload", "wrong"},
		{"fetch missing key", http.MethodGet, "/fetch", ""},
		{"fetch wrong key", http.MethodGet, "/fetch", "wrong"},
	}

	// Empty slot: rejected calls must not populate it.
	for _, tc := range cases {
		resp := doRequest(t, tc.method, ts.URL+tc.path, tc.key, []byte(`{"text":"x"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.StatusCode)
		}
	}
	if _, found := box.Drain(); found {
		t.Fatal("rejected uploads must not reach the mailbox")
	}

	// Populated slot: rejected calls must not drain it.
	box.Put(payload.Payload{Text: "resident", Timestamp: 1})
	for _, tc := range cases {
		resp := doRequest(t, tc.method, ts.URL+tc.path, tc.key, []byte(`{"text":"x"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.StatusCode)
		}
	}
	if p, found := box.Drain(); !found || p.Text != "resident" {
		t.Fatalf("rejected calls must leave the slot intact, got found=%v p=%+v", found, p)
	}
}

func TestBadUploadNeverReachesSlot(t *testing.T) {
	ts, _ := newTestServer(t)

	bad := doRequest(t, http.MethodPost, ts.URL+"/upload", "wrong", []byte(`{"text":"sneaky"}`))
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", bad.StatusCode)
	}

	fetch := doRequest(t, http.MethodGet, ts.URL+"/fetch", testKey, nil)
	var result payload.FetchResponse
	if err := json.NewDecoder(fetch.Body).Decode(&result); err != nil {
		t.Fatalf("decode fetch: %v", err)
	}
	if result.Found {
		t.Fatal("a rejected upload must not be fetchable")
	}
}

func TestMalformedBody(t *testing.T) {
	ts, box := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/upload", testKey, []byte(`{not json`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if _, found := box.Drain(); found {
		t.Fatal("malformed upload must not reach the mailbox")
	}
}

func TestEmptyConfiguredKeyRejectsEverything(t *testing.T) {
	box := mailbox.New()
	srv := New(config.ServerConfig{APIKey: ""}, box)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Even an empty provided key must not match an empty configured key.
	resp := doRequest(t, http.MethodGet, ts.URL+"/fetch", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	box := mailbox.New()
	srv := New(config.ServerConfig{APIKey: testKey, MaxBodyBytes: 64}, box)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	big := `{"text":"` + strings.Repeat("a", 256) + `"}`
	resp := doRequest(t, http.MethodPost, ts.URL+"/upload", testKey, []byte(big))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", resp.StatusCode)
	}
	if _, found := box.Drain(); found {
		t.Fatal("oversized upload must not reach the mailbox")
	}
}
