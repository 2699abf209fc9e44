package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
)

// Telegram 是可选的聊天渠道，只有配置了 token 和 chatId 才会加入 Hub。
type Telegram struct {
	cfg config.TelegramConfig
	bus *logbus.Bus

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg config.TelegramConfig, bus *logbus.Bus) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{cfg: cfg, bus: bus}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Configured() bool {
	return strings.TrimSpace(t.cfg.Token) != "" && t.cfg.ChatID != 0
}

func (t *Telegram) Send(ctx context.Context, title, text string) Result {
	if !t.Configured() {
		t.log(logbus.LevelWarn, "配置文件为空,跳过Telegram通知", nil)
		return Result{Code: CodeNotConfigured, Channel: t.Name(), Message: "配置文件为空,跳过Telegram通知"}
	}
	if err := ctx.Err(); err != nil {
		return Result{Code: CodeFailed, Channel: t.Name(), Message: err.Error()}
	}

	bot, err := t.getBot()
	if err != nil {
		t.log(logbus.LevelException, "telegram推送失败", map[string]any{"error": err.Error()})
		return Result{Code: CodeFailed, Channel: t.Name(), Message: err.Error()}
	}

	msg := tgbotapi.NewMessage(t.cfg.ChatID, title+"\n\n"+text)
	msg.DisableWebPagePreview = true
	if _, err := bot.Send(msg); err != nil {
		t.log(logbus.LevelException, "telegram推送失败", map[string]any{"error": err.Error()})
		return Result{Code: CodeFailed, Channel: t.Name(), Message: err.Error()}
	}
	t.log(logbus.LevelInfo, "telegram推送成功！", nil)
	return Result{Code: CodeOK, Channel: t.Name()}
}

func (t *Telegram) getBot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

func (t *Telegram) log(level logbus.Level, msg string, fields map[string]any) {
	if t.bus != nil {
		t.bus.Log(level, msg, fields)
	}
}
