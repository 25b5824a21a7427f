package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/internal/store"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// Telegram is a passive notifier plus the /positions command and the
// inline-button confirm flow used by the approval gate.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	pos    store.Positions

	mu       sync.Mutex
	pendings map[string]*pending
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64, pos store.Positions) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		pos:      pos,
		pendings: make(map[string]*pending),
	}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// HandleCallback must be called from Start() for callback_query updates.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// answer Telegram to stop the spinner
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	data := cb.Data // expecting CONF::token / REJ::token
	var verb, token string
	for i := 0; i < len(data); i++ {
		if i+1 < len(data) && data[i] == ':' && data[i+1] == ':' {
			verb, token = data[:i], data[i+2:]
			break
		}
	}
	if verb == "" || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted
	close(p.ch)

	status := "Rejected"
	emoji := "❌"
	if accepted {
		status = "Approved"
		emoji = "✅"
	}

	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s %s", p.prompt, emoji, status))

	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	edit := tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm)
	_, err := t.bot.Request(edit)
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	edit := tgbot.NewEditMessageText(chatID, msgID, text)
	_, err := t.bot.Request(edit)
	return err
}

// Confirm sends a message with buttons and waits for the callback.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Execute", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Skip", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, _ := t.bot.Send(msg)
	p.msgID = sent.MessageID

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
		_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n⏳ Timed out", prompt))
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		return false
	case <-ctx.Done():
		_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
		_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n⛔️ Cancelled", prompt))
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		return false
	}
}

// /positions dumps open trades from the store
func (t *Telegram) handlePositions(ctx context.Context) {
	if t.pos == nil {
		t.Send("❗️ Trade store not initialized")
		return
	}
	trades, err := t.pos.Open(ctx)
	if err != nil {
		t.Sendf("❗️ Failed to load positions: %v", err)
		return
	}
	if len(trades) == 0 {
		t.Send("📭 No open positions")
		return
	}

	var b strings.Builder
	b.WriteString("📊 Open positions:\n")
	for _, tr := range trades {
		fmt.Fprintf(&b, "- %s [%s] $%.2f @ %.4f lev=%dx\n",
			tr.Coin, tr.Direction, tr.SizeUSD, tr.EntryPrice, tr.Leverage)
	}
	t.Send(b.String())
}

// Start: long-polling for messages + callback_query.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {

					switch upd.Message.Command() {
					case "positions":
						go t.handlePositions(ctx)
					}
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {}

// Stdout is a stub that logs everything and always confirms.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { log.Println(msg) }
func (s *Stdout) Sendf(format string, args ...any) { log.Printf(format, args...) }
func (s *Stdout) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	log.Printf("CONFIRM (auto-yes): %s", prompt)
	return true
}

// ShadowEvents adapts a Notifier to the shadow simulator's callback interface.
type ShadowEvents struct {
	n Notifier
}

func NewShadowEvents(n Notifier) *ShadowEvents { return &ShadowEvents{n: n} }

func (e *ShadowEvents) ShadowOpened(t *models.ShadowTrade, openCount int) {
	if e == nil || e.n == nil {
		return
	}
	e.n.Sendf("👻 Shadow %s %s @ %.4f size=$%.2f (%d open)",
		t.Signal, t.Coin, t.EntryPrice, t.SizeUSD, openCount)
}

func (e *ShadowEvents) ShadowClosed(t *models.ShadowTrade, stats models.ShadowStats) {
	if e == nil || e.n == nil {
		return
	}
	pnl := 0.0
	if t.PnlUSD != nil {
		pnl = *t.PnlUSD
	}
	e.n.Sendf("👻 Shadow closed %s (%s) pnl=$%.2f | equity=$%.2f (%+.1f%%) win=%.0f%%",
		t.Coin, t.CloseReason, pnl, stats.CurrentEquity, stats.EquityChangePct, stats.WinRate)
}
