// Package webhook terminates the chat provider's webhook: verification
// handshake, signed message delivery and the sandbox endpoint.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kfirel/hiker/internal/bot"
	"github.com/kfirel/hiker/internal/notify"
	"github.com/kfirel/hiker/pkg/async"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/logger"
	"github.com/kfirel/hiker/pkg/security"
	"go.uber.org/zap"
)

// messageTimeout bounds the detached handling of one inbound message,
// including the model call and inline matching.
const messageTimeout = 3 * time.Minute

// Orchestrator handles one inbound chat message.
type Orchestrator interface {
	HandleMessage(ctx context.Context, prefix, phone, displayName, text string, sendExternally bool) (string, error)
}

// Limiter throttles inbound messages per sender. *ratelimit.Limiter
// implements it.
type Limiter interface {
	Allow(ctx context.Context, phone string) bool
}

// Handler holds the webhook endpoints.
type Handler struct {
	bot         Orchestrator
	verifyToken string
	appSecret   string
	limiter     Limiter
	sink        notify.Sink
}

// NewHandler creates a webhook handler.
func NewHandler(bot Orchestrator, chatCfg config.ChatConfig) *Handler {
	return &Handler{
		bot:         bot,
		verifyToken: chatCfg.WebhookVerifyToken,
		appSecret:   chatCfg.WebhookAppSecret,
	}
}

// SetLimiter enables per-sender throttling of inbound messages. Throttled
// senders still get the localized busy reply through sink; every inbound
// message is answered with something.
func (h *Handler) SetLimiter(l Limiter, sink notify.Sink) {
	h.limiter = l
	h.sink = sink
}

// RegisterRoutes mounts the webhook endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	r.POST("/sandbox/message", h.SandboxMessage)
}

// Verify answers the provider's subscription handshake.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// envelope is the provider's webhook payload, reduced to the fields we read.
type envelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Receive accepts signed message deliveries. The provider retries on anything
// but a 2xx, so the handler acknowledges first and processes detached.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "bad body")
		return
	}

	if !h.validSignature(body, c.GetHeader("X-Hub-Signature-256")) {
		logger.WarnContext(c.Request.Context(), "webhook signature mismatch")
		c.String(http.StatusForbidden, "invalid signature")
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Malformed but authentic payloads are acknowledged so the provider
		// does not retry them forever.
		logger.WarnContext(c.Request.Context(), "webhook payload unparseable", zap.Error(err))
		c.String(http.StatusOK, "ok")
		return
	}

	for _, msg := range flatten(env) {
		m := msg
		if h.limiter != nil && !h.limiter.Allow(c.Request.Context(), m.from) {
			logger.WarnContext(c.Request.Context(), "inbound message rate limited",
				zap.String("phone", m.from))
			h.sendBusyReply(c.Request.Context(), m.from)
			continue
		}
		async.GoWithTimeout(c.Request.Context(), "inbound-message", messageTimeout, func(ctx context.Context) {
			if _, err := h.bot.HandleMessage(ctx, config.PrefixLive, m.from, m.name, m.text, true); err != nil {
				logger.ErrorContext(ctx, "inbound message handling failed",
					zap.String("phone", m.from), zap.Error(err))
			}
		})
	}
	c.String(http.StatusOK, "ok")
}

// sendBusyReply tells a throttled sender to slow down instead of going
// silent on them.
func (h *Handler) sendBusyReply(ctx context.Context, phone string) {
	if h.sink == nil {
		return
	}
	async.GoWithTimeout(ctx, "rate-limit-reply", 30*time.Second, func(ctx context.Context) {
		if err := h.sink.SendText(ctx, phone, bot.ReplyBusy); err != nil {
			logger.WarnContext(ctx, "busy reply delivery failed",
				zap.String("phone", phone), zap.Error(err))
		}
	})
}

type inbound struct {
	from string
	name string
	text string
}

func flatten(env envelope) []inbound {
	var out []inbound
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "" && msg.Type != "text" {
					continue
				}
				from := security.SanitizePhone(msg.From)
				text := security.SanitizeText(msg.Text.Body)
				if from == "" || text == "" {
					continue
				}
				out = append(out, inbound{from: from, name: names[msg.From], text: text})
			}
		}
	}
	return out
}

// validSignature checks the X-Hub-Signature-256 HMAC over the raw body. An
// unset app secret disables verification, for local development.
func (h *Handler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" {
		return true
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(provided), []byte(expected))
}

type sandboxRequest struct {
	Phone string `json:"phone" binding:"required"`
	Name  string `json:"name"`
	Text  string `json:"text" binding:"required"`
}

// SandboxMessage runs one message through the full flow under the sandbox
// namespace and returns the reply inline. Nothing is sent externally.
func (h *Handler) SandboxMessage(c *gin.Context) {
	var req sandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone and text are required"})
		return
	}

	phone := security.SanitizePhone(req.Phone)
	text := security.SanitizeText(req.Text)
	if phone == "" || text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone and text are required"})
		return
	}

	reply, err := h.bot.HandleMessage(c.Request.Context(), config.PrefixSandbox, phone, req.Name, text, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
