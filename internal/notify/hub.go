package notify

import (
	"context"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
)

// Hub 把聊天通知广播到所有聊天渠道，邮件走单一 Mailer。
type Hub struct {
	chats  []ChatChannel
	mailer Mailer
	bus    *logbus.Bus
}

func NewHub(bus *logbus.Bus, mailer Mailer, chats ...ChatChannel) *Hub {
	return &Hub{chats: chats, mailer: mailer, bus: bus}
}

// NewFromConfig 钉钉和邮件始终参与（未配置时各自降级为 404），Telegram 仅在配置后加入。
func NewFromConfig(cfg config.NotifyConfig, bus *logbus.Bus) *Hub {
	chats := []ChatChannel{NewDingTalk(cfg.DingTalk, bus)}
	if tg := NewTelegram(cfg.Telegram, bus); tg.Configured() {
		chats = append(chats, tg)
	}
	return NewHub(bus, NewEmailNotifier(cfg.Email, bus), chats...)
}

// Chat 返回第一个失败渠道的结果；全部成功时返回 200。
func (h *Hub) Chat(ctx context.Context, title, text string) Result {
	if len(h.chats) == 0 {
		if h.bus != nil {
			h.bus.Log(logbus.LevelWarn, "未配置聊天通知渠道", nil)
		}
		return Result{Code: CodeNotConfigured, Message: "no chat channel"}
	}
	out := Result{Code: CodeOK}
	for _, ch := range h.chats {
		res := ch.Send(ctx, title, text)
		if !res.OK() && out.OK() {
			out = res
		}
	}
	return out
}

func (h *Hub) Mail(ctx context.Context, subject, body, attachment string) Result {
	if h.mailer == nil {
		if h.bus != nil {
			h.bus.Log(logbus.LevelWarn, "未配置邮件通知", nil)
		}
		return Result{Code: CodeNotConfigured, Channel: "email", Message: "no mailer"}
	}
	return h.mailer.Send(ctx, subject, body, attachment)
}

var _ Notifier = (*Hub)(nil)
