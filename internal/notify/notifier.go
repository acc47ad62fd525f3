package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// PositionLister — источник для /positions.
type PositionLister interface {
	AllPositions(ctx context.Context) ([]models.Position, error)
}

// StatusFunc — текст для /status.
type StatusFunc func(ctx context.Context) string

// Telegram — пассивный нотифайер + команды /positions, /status.
type Telegram struct {
	bot       *tgbot.BotAPI
	chatID    int64
	positions PositionLister
	status    StatusFunc

	mu       sync.Mutex
	pendings map[string]*pending
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64, positions PositionLister, status StatusFunc) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:       b,
		chatID:    chatID,
		positions: positions,
		status:    status,
		pendings:  make(map[string]*pending),
	}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Error("[TELEGRAM] send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// ParseCallback: "CONF::token" / "REJ::token".
func ParseCallback(data string) (verb, token string, ok bool) {
	verb, token, found := strings.Cut(data, "::")
	if !found || verb == "" || token == "" {
		return "", "", false
	}
	return verb, token, true
}

// HandleCallback вызывается из Start() для callback_query.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// ответ Telegram для остановки спиннера
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, ok := ParseCallback(cb.Data)
	if !ok {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	if ok {
		delete(t.pendings, token)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted

	status := "Отклонено"
	emoji := "❌"
	if accepted {
		status = "Подтверждено"
		emoji = "✅"
	}

	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s %s", p.prompt, emoji, status))
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

// Confirm — сообщение с кнопками и ожиданием callback.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Войти", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Пропустить", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, err := t.bot.Send(msg)
	if err != nil {
		logger.Error("[TELEGRAM] confirm send: %v", err)
		return false
	}
	p.msgID = sent.MessageID

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	var suffix string
	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		suffix = "⏳ Таймаут"
	case <-ctx.Done():
		suffix = "⛔️ Отменено"
	}

	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", prompt, suffix))
	return false
}

// FormatPositions — текст ответа на /positions.
func FormatPositions(positions []models.Position) string {
	if len(positions) == 0 {
		return "📭 Открытых позиций нет"
	}
	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range positions {
		size := p.Size
		if size < 0 {
			size = -size
		}
		fmt.Fprintf(&b, "- %s [%s] size=%.4f @ %.4f lev=%.0fx pnl=%.2f%%\n",
			p.Coin, p.Side(), size, p.EntryPrice, p.Leverage, p.PnlPercent())
	}
	return b.String()
}

func (t *Telegram) handlePositions(ctx context.Context) {
	if t.positions == nil {
		t.Send("❗️ Источник позиций не настроен")
		return
	}
	positions, err := t.positions.AllPositions(ctx)
	if err != nil {
		t.Sendf("❗️ Ошибка получения позиций: %v", err)
		return
	}
	t.Send(FormatPositions(positions))
}

func (t *Telegram) handleStatus(ctx context.Context) {
	if t.status == nil {
		return
	}
	t.Send(t.status(ctx))
}

// Start: long-polling для messages + callback_query.
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
					case "status":
						go t.handleStatus(ctx)
					}
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Stdout — заглушка без токена: всё в лог, подтверждает всегда.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { logger.Info("[NOTIFY] "+format, args...) }
func (s *Stdout) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	logger.Info("[NOTIFY] confirm (auto-yes): %s", prompt)
	return true
}
