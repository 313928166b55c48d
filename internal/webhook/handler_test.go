package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kfirel/hiker/internal/bot"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type handled struct {
	prefix         string
	phone          string
	name           string
	text           string
	sendExternally bool
}

type fakeBot struct {
	mu      sync.Mutex
	calls   []handled
	reply   string
	gotCall chan struct{}
}

func newFakeBot() *fakeBot {
	return &fakeBot{reply: "הודעה התקבלה", gotCall: make(chan struct{}, 16)}
}

func (b *fakeBot) HandleMessage(_ context.Context, prefix, phone, name, text string, sendExternally bool) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, handled{prefix, phone, name, text, sendExternally})
	b.mu.Unlock()
	b.gotCall <- struct{}{}
	return b.reply, nil
}

func (b *fakeBot) waitForCall(t *testing.T) handled {
	t.Helper()
	select {
	case <-b.gotCall:
	case <-time.After(2 * time.Second):
		t.Fatal("bot was never called")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

func newRouter(bot *fakeBot, appSecret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(bot, config.ChatConfig{
		WebhookVerifyToken: testVerifyToken,
		WebhookAppSecret:   appSecret,
	}).RegisterRoutes(r)
	return r
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func providerPayload(from, name, text string) []byte {
	payload := map[string]interface{}{
		"entry": []interface{}{map[string]interface{}{
			"changes": []interface{}{map[string]interface{}{
				"value": map[string]interface{}{
					"contacts": []interface{}{map[string]interface{}{
						"wa_id":   from,
						"profile": map[string]interface{}{"name": name},
					}},
					"messages": []interface{}{map[string]interface{}{
						"from": from,
						"type": "text",
						"text": map[string]interface{}{"body": text},
					}},
				},
			}},
		}},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestVerifyHandshake(t *testing.T) {
	r := newRouter(newFakeBot(), testAppSecret)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceiveSignedMessage(t *testing.T) {
	bot := newFakeBot()
	r := newRouter(bot, testAppSecret)
	body := providerPayload("972500000001", "דנה", "אני נוסעת מחר לתל אביב")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	call := bot.waitForCall(t)
	assert.Equal(t, config.PrefixLive, call.prefix)
	assert.Equal(t, "972500000001", call.phone)
	assert.Equal(t, "דנה", call.name)
	assert.Equal(t, "אני נוסעת מחר לתל אביב", call.text)
	assert.True(t, call.sendExternally)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	bot := newFakeBot()
	r := newRouter(bot, testAppSecret)
	body := providerPayload("972500000001", "", "שלום")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	select {
	case <-bot.gotCall:
		t.Fatal("bot must not be called on a signature mismatch")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReceiveRejectsMissingSignature(t *testing.T) {
	r := newRouter(newFakeBot(), testAppSecret)
	body := providerPayload("972500000001", "", "שלום")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceiveWithoutConfiguredSecret(t *testing.T) {
	bot := newFakeBot()
	r := newRouter(bot, "")
	body := providerPayload("972500000001", "", "שלום")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	bot.waitForCall(t)
}

func TestReceiveAcknowledgesMalformedPayload(t *testing.T) {
	r := newRouter(newFakeBot(), testAppSecret)
	body := []byte("not json at all")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiveSkipsNonTextMessages(t *testing.T) {
	bot := newFakeBot()
	r := newRouter(bot, testAppSecret)
	payload := map[string]interface{}{
		"entry": []interface{}{map[string]interface{}{
			"changes": []interface{}{map[string]interface{}{
				"value": map[string]interface{}{
					"messages": []interface{}{map[string]interface{}{
						"from": "972500000001",
						"type": "image",
					}},
				},
			}},
		}},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-bot.gotCall:
		t.Fatal("non-text messages must be skipped")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReceiveSanitizesPhoneAndText(t *testing.T) {
	bot := newFakeBot()
	r := newRouter(bot, testAppSecret)
	body := providerPayload("+972-50-0000001", "דנה", "שלום\x00 עולם")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	call := bot.waitForCall(t)
	assert.Equal(t, "972500000001", call.phone)
	assert.Equal(t, "שלום עולם", call.text)
	assert.Equal(t, "דנה", call.name)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) bool { return false }

type recordingSink struct {
	mu   sync.Mutex
	to   string
	body string
	got  chan struct{}
}

func (s *recordingSink) SendText(_ context.Context, toPhone, body string) error {
	s.mu.Lock()
	s.to, s.body = toPhone, body
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func TestReceiveRateLimitedRepliesBusy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fb := newFakeBot()
	sink := &recordingSink{got: make(chan struct{}, 1)}
	h := NewHandler(fb, config.ChatConfig{
		WebhookVerifyToken: testVerifyToken,
		WebhookAppSecret:   testAppSecret,
	})
	h.SetLimiter(denyLimiter{}, sink)
	r := gin.New()
	h.RegisterRoutes(r)

	body := providerPayload("972500000001", "דנה", "שלום")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("throttled sender never got a reply")
	}
	sink.mu.Lock()
	assert.Equal(t, "972500000001", sink.to)
	assert.Equal(t, bot.ReplyBusy, sink.body)
	sink.mu.Unlock()

	select {
	case <-fb.gotCall:
		t.Fatal("throttled messages must not reach the orchestrator")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSandboxMessage(t *testing.T) {
	bot := newFakeBot()
	bot.reply = "רשמתי את הנסיעה שלך כנהג 🚗"
	r := newRouter(bot, testAppSecret)

	req := httptest.NewRequest(http.MethodPost, "/sandbox/message",
		strings.NewReader(`{"phone":"972500000001","name":"דנה","text":"אני נוסעת מחר"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "רשמתי את הנסיעה שלך כנהג 🚗", resp.Reply)

	call := bot.waitForCall(t)
	assert.Equal(t, config.PrefixSandbox, call.prefix)
	assert.False(t, call.sendExternally)
}

func TestSandboxMessageValidation(t *testing.T) {
	r := newRouter(newFakeBot(), testAppSecret)

	req := httptest.NewRequest(http.MethodPost, "/sandbox/message", strings.NewReader(`{"phone":"123"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
