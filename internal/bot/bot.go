// Package bot is the conversation orchestrator: it serializes messages per
// user, routes admin commands, calls the intent model and turns the outcome
// into exactly one reply.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kfirel/hiker/internal/admin"
	"github.com/kfirel/hiker/internal/dispatch"
	"github.com/kfirel/hiker/internal/llm"
	"github.com/kfirel/hiker/internal/notify"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// ReplyBusy is the localized back-off reply, shared with the webhook's
// rate-limit path.
const ReplyBusy = "המערכת עמוסה כרגע, נסו שוב בעוד רגע 🙏"

// Fallback replies. The bot never answers with an empty string.
const (
	replyFallback = "משהו השתבש אצלנו, נסו שוב בעוד רגע."
	replyDefault  = "היי! כתבו לי מאיפה ולאן אתם נוסעים, או \"עזרה\" להסבר."
)

// Completer is the intent-extraction model call.
type Completer interface {
	Complete(ctx context.Context, system string, history []llm.Message, userMessage string, tools []llm.Tool) (*llm.Result, error)
}

// Bot handles one inbound chat message end to end.
type Bot struct {
	store      *rides.Store
	model      Completer
	dispatcher *dispatch.Dispatcher
	admin      *admin.Service
	sink       notify.Sink
	adminCfg   config.AdminConfig
	contextMsg int
	locks      sync.Map // prefix|phone -> *sync.Mutex
	now        func() time.Time
}

// New creates a bot.
func New(store *rides.Store, model Completer, dispatcher *dispatch.Dispatcher, adminSvc *admin.Service, sink notify.Sink, adminCfg config.AdminConfig, contextMessages int) *Bot {
	if contextMessages <= 0 {
		contextMessages = 5
	}
	return &Bot{
		store:      store,
		model:      model,
		dispatcher: dispatcher,
		admin:      adminSvc,
		sink:       sink,
		adminCfg:   adminCfg,
		contextMsg: contextMessages,
		now:        func() time.Time { return time.Now().In(rides.Location()) },
	}
}

// SetClock overrides the bot's clock, for tests.
func (b *Bot) SetClock(now func() time.Time) { b.now = now }

func (b *Bot) lockFor(prefix, phone string) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(prefix+"|"+phone, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleMessage processes one inbound text and returns the reply. Messages
// from the same phone are handled strictly one at a time; the reply is pushed
// through the chat sink only when sendExternally is set, so the sandbox can
// return it inline instead.
func (b *Bot) HandleMessage(ctx context.Context, prefix, phone, displayName, text string, sendExternally bool) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	mu := b.lockFor(prefix, phone)
	mu.Lock()
	defer mu.Unlock()

	// Admin commands bypass the model and the chat history.
	if strings.HasPrefix(text, "/a") && b.adminCfg.IsAdminPhone(phone) {
		reply := b.admin.HandleCommand(ctx, prefix, text)
		b.deliver(ctx, phone, reply, sendExternally)
		return reply, nil
	}

	user, err := b.store.GetOrCreateUser(ctx, prefix, phone, displayName)
	if err != nil {
		return "", err
	}
	history := b.recentHistory(user)

	if err := b.store.AppendHistory(ctx, prefix, phone, rides.ChatMessage{
		Role: "user", Text: text, Timestamp: b.now(),
	}); err != nil {
		logger.ErrorContext(ctx, "append inbound history failed",
			zap.String("phone", phone), zap.Error(err))
	}

	reply := b.converse(ctx, prefix, phone, history, text, sendExternally)
	if reply == "" {
		reply = replyDefault
	}

	if err := b.store.AppendHistory(ctx, prefix, phone, rides.ChatMessage{
		Role: "assistant", Text: reply, Timestamp: b.now(),
	}); err != nil {
		logger.ErrorContext(ctx, "append reply history failed",
			zap.String("phone", phone), zap.Error(err))
	}

	b.deliver(ctx, phone, reply, sendExternally)
	return reply, nil
}

// converse runs the model call and executes whatever it decided.
func (b *Bot) converse(ctx context.Context, prefix, phone string, history []llm.Message, text string, sendExternally bool) string {
	result, err := b.model.Complete(ctx, llm.BuildSystemPrompt(b.now()), history, text, dispatch.Tools())
	if err != nil {
		if errors.Is(err, llm.ErrBusy) {
			return ReplyBusy
		}
		logger.ErrorContext(ctx, "model call failed",
			zap.String("phone", phone), zap.Error(err))
		return replyFallback
	}

	if result.ToolCall != nil {
		return b.dispatcher.Execute(ctx, phone, result.ToolCall, prefix, sendExternally)
	}
	return llm.SanitizeReply(result.Text)
}

// recentHistory maps the tail of the stored conversation to model messages.
func (b *Bot) recentHistory(user *rides.User) []llm.Message {
	msgs := user.ChatHistory
	if len(msgs) > b.contextMsg {
		msgs = msgs[len(msgs)-b.contextMsg:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Text})
	}
	return out
}

// deliver pushes the reply through the chat sink. Sandbox traffic never
// reaches the sink; the webhook returns the reply inline instead.
func (b *Bot) deliver(ctx context.Context, phone, reply string, sendExternally bool) {
	if !sendExternally || reply == "" {
		return
	}
	if err := b.sink.SendText(ctx, phone, reply); err != nil {
		logger.ErrorContext(ctx, "chat sink send failed",
			zap.String("phone", phone), zap.Error(err))
	}
}
