package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/logger"
	"github.com/arenabridge/bridge/internal/peer"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/arenabridge/bridge/internal/registry"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

type harness struct {
	ts       *httptest.Server
	pool     *pool.Pool
	registry *registry.Registry
	catalog  *Catalog
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	return newHarnessWithRegistryCapacity(t, cfg, 0)
}

// newHarnessWithRegistryCapacity is newHarness with an explicit cap on the
// registry's concurrent in-flight requests, for exercising the 503
// capacity path (registry.ErrTooManyConcurrentRequests).
func newHarnessWithRegistryCapacity(t *testing.T, cfg *config.Config, maxConcurrent int) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := NewCatalog([]config.ModelRegistryEntry{
		{PublicName: "gpt-4", UpstreamID: "upstream-gpt-4", Modality: config.ModalityChat},
	})
	p := pool.New()
	reg := registry.New(maxConcurrent)

	link := peer.New(log, peer.Handlers{
		OnChunk: func(requestID, data string) {
			if req, ok := reg.Get(requestID); ok {
				select {
				case req.Responses <- data:
				default:
				}
			}
		},
	})

	srv := New(cfg, &logger.Logger{Logger: log}, p, reg, link, catalog, config.EndpointMap{}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &harness{ts: ts, pool: p, registry: reg, catalog: catalog}
}

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:        2 * time.Second,
		SessionAcquireTimeout: 150 * time.Millisecond,
		ResponseChannelSize:   5,
		DefaultMode:           config.ModeDirectChat,
		DefaultBattleTarget:   "a",
		DefaultSessionID:      "default-session",
		DefaultMessageID:      "default-message",
	}
}

// dialPeer connects to the harness's /ws endpoint as the browser peer would.
func dialPeer(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial /ws failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func postChatCompletions(t *testing.T, h *harness, body map[string]interface{}, token string) (*http.Response, []byte) {
	t.Helper()
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	return resp, payload
}

func TestChatCompletionsRejectsMissingBearerToken(t *testing.T) {
	cfg := testConfig()
	cfg.BearerToken = "secret"
	hash, _ := bcrypt.GenerateFromPassword([]byte(cfg.BearerToken), bcrypt.DefaultCost)
	cfg.BearerTokenHash = hash
	h := newHarness(t, cfg)

	resp, _ := postChatCompletions(t, h, map[string]interface{}{"model": "gpt-4"}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsReturns503WhenNoPeerConnected(t *testing.T) {
	h := newHarness(t, testConfig())

	resp, _ := postChatCompletions(t, h, map[string]interface{}{
		"model":    "gpt-4",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsReturns404ForUnknownModel(t *testing.T) {
	h := newHarness(t, testConfig())
	dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	resp, _ := postChatCompletions(t, h, map[string]interface{}{
		"model":    "does-not-exist",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsReturns504WhenPoolNeverWarms(t *testing.T) {
	h := newHarness(t, testConfig())
	dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	resp, _ := postChatCompletions(t, h, map[string]interface{}{
		"model":    "gpt-4",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsReturns503WhenRegistryAtCapacity(t *testing.T) {
	h := newHarnessWithRegistryCapacity(t, testConfig(), 1)
	client := dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	h.pool.Add(&pool.Session{
		ID: "sess-1", ModelName: "gpt-4", MessageID: "msg-1",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})
	h.pool.Add(&pool.Session{
		ID: "sess-2", ModelName: "gpt-4", MessageID: "msg-2",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})

	// Occupy the registry's sole slot with a request that never completes.
	firstDone := make(chan *http.Response, 1)
	go func() {
		resp, _ := postChatCompletions(t, h, map[string]interface{}{
			"model":    "gpt-4",
			"stream":   false,
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		}, "")
		firstDone <- resp
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err != nil {
		t.Fatalf("expected retry_request from server: %v", err)
	}

	// A second request finds the registry full and should be rejected 503,
	// not the 500 a catch-all bridge error would produce.
	resp, body := postChatCompletions(t, h, map[string]interface{}{
		"model":    "gpt-4",
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", resp.StatusCode, body)
	}
}

func TestChatCompletionsNonStreamingRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	client := dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	h.pool.Add(&pool.Session{
		ID: "sess-1", ModelName: "gpt-4", MessageID: "msg-1",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})

	type result struct {
		resp *http.Response
		body []byte
	}
	done := make(chan result, 1)
	go func() {
		resp, body := postChatCompletions(t, h, map[string]interface{}{
			"model":    "gpt-4",
			"stream":   false,
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		}, "")
		done <- result{resp, body}
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected retry_request from server: %v", err)
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("invalid retry_request JSON: %v", err)
	}
	if envelope["type"] != "retry_request" {
		t.Fatalf("expected retry_request, got %v", envelope["type"])
	}
	requestID, _ := envelope["requestId"].(string)
	if requestID == "" {
		t.Fatal("expected a non-empty requestId")
	}

	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": `a0:"Hello"`})
	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": `ad:{"finishReason":"stop"}`})
	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": "[DONE]"})

	select {
	case r := <-done:
		if r.resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", r.resp.StatusCode, r.body)
		}
		var completion struct {
			Choices []struct {
				Message struct{ Content string `json:"content"` } `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(r.body, &completion); err != nil {
			t.Fatalf("invalid completion JSON: %v: %s", err, r.body)
		}
		if len(completion.Choices) != 1 || completion.Choices[0].Message.Content != "Hello" {
			t.Fatalf("unexpected completion body: %s", r.body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("HTTP response never completed")
	}
}

func TestChatCompletionsStreamingEmitsSSEFrames(t *testing.T) {
	h := newHarness(t, testConfig())
	client := dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	h.pool.Add(&pool.Session{
		ID: "sess-1", ModelName: "gpt-4", MessageID: "msg-1",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})

	req, _ := http.NewRequest(http.MethodPost, h.ts.URL+"/v1/chat/completions", bytes.NewReader(mustJSON(map[string]interface{}{
		"model":    "gpt-4",
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})))
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		resp *http.Response
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		done <- result{resp: resp, body: string(body)}
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected retry_request from server: %v", err)
	}
	var envelope map[string]interface{}
	json.Unmarshal(raw, &envelope)
	requestID, _ := envelope["requestId"].(string)

	longChunk := strings.Repeat("x", 64)
	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": `a0:"` + longChunk + `"`})
	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": `ad:{"finishReason":"stop"}`})
	client.WriteJSON(map[string]interface{}{"requestId": requestID, "data": "[DONE]"})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("request failed: %v", r.err)
		}
		if r.resp.Header.Get("Content-Type") != "text/event-stream" {
			t.Fatalf("expected SSE content type, got %q", r.resp.Header.Get("Content-Type"))
		}
		if !strings.Contains(r.body, "data: [DONE]") {
			t.Fatalf("expected a terminating [DONE] frame, got: %s", r.body)
		}
		if !strings.Contains(r.body, longChunk) {
			t.Fatalf("expected streamed content in body, got: %s", r.body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("HTTP response never completed")
	}
}

func TestChatCompletionsAttachmentTooLargeReturns413(t *testing.T) {
	h := newHarness(t, testConfig())
	client := dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	h.pool.Add(&pool.Session{
		ID: "sess-1", ModelName: "gpt-4", MessageID: "msg-1",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})

	type result struct {
		resp *http.Response
		body []byte
	}
	done := make(chan result, 1)
	go func() {
		resp, body := postChatCompletions(t, h, map[string]interface{}{
			"model":    "gpt-4",
			"stream":   false,
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		}, "")
		done <- result{resp, body}
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected retry_request from server: %v", err)
	}
	var envelope map[string]interface{}
	json.Unmarshal(raw, &envelope)
	requestID, _ := envelope["requestId"].(string)

	client.WriteJSON(map[string]interface{}{
		"requestId": requestID,
		"data":      map[string]interface{}{"error": "413 Request Entity Too Large: attachment exceeds limit"},
	})

	select {
	case r := <-done:
		if r.resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d: %s", r.resp.StatusCode, r.body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("HTTP response never completed")
	}
}

func TestChatCompletionsClientCancellationSendsAbort(t *testing.T) {
	h := newHarness(t, testConfig())
	client := dialPeer(t, h)
	time.Sleep(20 * time.Millisecond)

	h.pool.Add(&pool.Session{
		ID: "sess-1", ModelName: "gpt-4", MessageID: "msg-1",
		Status: pool.StatusAvailable, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodPost, h.ts.URL+"/v1/chat/completions", bytes.NewReader(mustJSON(map[string]interface{}{
		"model":    "gpt-4",
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})))
	req = req.WithContext(ctx)

	go func() {
		resp, err := http.DefaultClient.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
		_ = err
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err != nil {
		t.Fatalf("expected retry_request from server: %v", err)
	}

	cancel()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected abort_request after client cancellation: %v", err)
	}
	var abort map[string]interface{}
	json.Unmarshal(raw, &abort)
	if abort["type"] != "abort_request" {
		t.Fatalf("expected abort_request, got %v", abort["type"])
	}
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
