package notify

import "context"

// 与旧脚本的返回值保持一致：200 成功，403 被拒，404 未配置跳过，500 发送异常。
const (
	CodeOK            = 200
	CodeForbidden     = 403
	CodeNotConfigured = 404
	CodeFailed        = 500
)

type Result struct {
	Code    int    `json:"code"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r Result) OK() bool { return r.Code == CodeOK }

// Notifier 对外只暴露“聊天通知”和“邮件通知”两个能力；未配置的渠道降级为空操作。
type Notifier interface {
	Chat(ctx context.Context, title, text string) Result
	Mail(ctx context.Context, subject, body, attachment string) Result
}

type ChatChannel interface {
	Name() string
	Send(ctx context.Context, title, text string) Result
}

type Mailer interface {
	Send(ctx context.Context, subject, body, attachment string) Result
}
