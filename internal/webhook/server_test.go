package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"progbot/internal/config"
	"progbot/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeCompleter struct {
	reply   string
	err     error
	gotText string
	calls   int
}

func (f *fakeCompleter) Complete(ctx context.Context, userText string) (string, error) {
	f.calls++
	f.gotText = userText
	return f.reply, f.err
}

type fakeMessenger struct {
	err    error
	gotMsg string
	gotTo  string
	calls  int
}

func (f *fakeMessenger) SendText(ctx context.Context, message string, recipient string) (int, error) {
	f.calls++
	f.gotMsg = message
	f.gotTo = recipient
	if f.err != nil {
		return http.StatusInternalServerError, f.err
	}
	return http.StatusOK, nil
}

func newTestServer(completer *fakeCompleter, messenger *fakeMessenger) (*Server, *metrics.Metrics) {
	m := metrics.New()
	s := NewServer(ServerConfig{
		Config: config.ServerConfig{
			Host:                "127.0.0.1",
			Port:                0,
			WebhookPath:         "/webhook",
			RelayTimeoutSeconds: 5,
		},
		Verify:    "hook-secret",
		Completer: completer,
		Messenger: messenger,
		Metrics:   m,
		MetricsAt: "/metrics",
		Logger:    testLogger(),
	})
	return s, m
}

// textNotification builds the nested Cloud API payload around a single text message.
func textNotification(from, body string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"messages": [{"from": %q, "id": "wamid.1", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, from, body)
}

func TestAlive(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "progbot is alive" {
		t.Errorf("unexpected body: %q", rr.Body.String())
	}
}

func TestVerification_Success(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=hook-secret&hub.challenge=123456", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "123456" {
		t.Errorf("challenge should be echoed, got %q", rr.Body.String())
	}
}

func TestVerification_TokenMismatch(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=wrong&hub.challenge=123456", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestVerification_MissingChallenge(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=hook-secret", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestVerification_NonNumericChallenge(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("GET", "/webhook?hub.verify_token=hook-secret&hub.challenge=abc", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCallback_RelaysTextMessage(t *testing.T) {
	completer := &fakeCompleter{reply: "A pointer holds a memory address."}
	messenger := &fakeMessenger{}
	s, m := newTestServer(completer, messenger)

	body := textNotification("5511999999999", "what is a pointer?")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "success" {
		t.Errorf("status: got %q", resp["status"])
	}

	if completer.gotText != "what is a pointer?" {
		t.Errorf("completer input: got %q", completer.gotText)
	}
	if messenger.gotMsg != "A pointer holds a memory address." {
		t.Errorf("sent message: got %q", messenger.gotMsg)
	}
	if messenger.gotTo != "5511999999999" {
		t.Errorf("recipient: got %q", messenger.gotTo)
	}

	if got := testutil.ToFloat64(m.MessagesRelayed); got != 1 {
		t.Errorf("messages_relayed_total: got %v", got)
	}
}

func TestCallback_IgnoresNonText(t *testing.T) {
	completer := &fakeCompleter{}
	messenger := &fakeMessenger{}
	s, _ := newTestServer(completer, messenger)

	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"111","type":"image"}]}}]}]}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("status: got %q", resp["status"])
	}
	if completer.calls != 0 || messenger.calls != 0 {
		t.Errorf("no collaborator should be called, got complete=%d send=%d", completer.calls, messenger.calls)
	}
}

func TestCallback_EmptyPayloadIgnored(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for payload without entry, got %d", rr.Code)
	}
}

func TestCallback_BadJSON(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{}, &fakeMessenger{})
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCallback_CompletionFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("completion API 429: rate limited")}
	messenger := &fakeMessenger{}
	s, m := newTestServer(completer, messenger)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(textNotification("111", "hi")))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
	if messenger.calls != 0 {
		t.Errorf("send should not be attempted after completion failure, got %d calls", messenger.calls)
	}
	if got := testutil.ToFloat64(m.RelayFailures.WithLabelValues("complete")); got != 1 {
		t.Errorf("relay_failures_total{stage=complete}: got %v", got)
	}
}

func TestCallback_SendFailure(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	messenger := &fakeMessenger{err: errors.New("whatsapp API 401: bad token")}
	s, _ := newTestServer(completer, messenger)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(textNotification("111", "hi")))
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeCompleter{reply: "ok"}, &fakeMessenger{})

	// Drive one relay through so counters have values.
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(textNotification("111", "hi")))
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data, _ := io.ReadAll(rr.Body)
	if !bytes.Contains(data, []byte("progbot_messages_relayed_total 1")) {
		t.Errorf("exposition should contain relayed counter, got:\n%s", data)
	}
}
