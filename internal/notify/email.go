package notify

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	cfg config.EmailConfig
	bus *logbus.Bus

	dial func(host string, port int, username, password string, ssl bool) mailSender
	now  func() time.Time
}

func NewEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus) *EmailNotifier {
	return &EmailNotifier{
		cfg:  cfg,
		bus:  bus,
		dial: dialGomail,
		now:  time.Now,
	}
}

func dialGomail(host string, port int, username, password string, ssl bool) mailSender {
	d := gomail.NewDialer(host, port, username, password)
	d.SSL = ssl
	return d
}

func (n *EmailNotifier) Name() string { return "email" }

// Send 发送 HTML 邮件；attachment 为空或文件不存在时不带附件发送。
func (n *EmailNotifier) Send(ctx context.Context, subject, body, attachment string) Result {
	sender := strings.TrimSpace(n.cfg.Sender)
	authCode := strings.TrimSpace(n.cfg.AuthCode)
	receivers := config.SplitList(n.cfg.Receivers)
	if sender == "" || authCode == "" || len(receivers) == 0 {
		n.log(logbus.LevelWarn, "配置文件为空,跳过邮件通知", nil)
		return Result{Code: CodeNotConfigured, Channel: n.Name(), Message: "配置文件为空,跳过邮件通知"}
	}
	if err := validateAddresses(sender, receivers); err != nil {
		n.log(logbus.LevelError, "邮件配置无效", map[string]any{"error": err.Error()})
		return Result{Code: CodeFailed, Channel: n.Name(), Message: err.Error()}
	}
	if err := ctx.Err(); err != nil {
		return Result{Code: CodeFailed, Channel: n.Name(), Message: err.Error()}
	}

	host, port, useSSL := n.cfg.Host, n.cfg.Port, true
	if host == "" {
		var err error
		host, port, useSSL, err = smtpConfigForEmail(sender)
		if err != nil {
			n.log(logbus.LevelError, "邮件配置无效", map[string]any{"error": err.Error()})
			return Result{Code: CodeFailed, Channel: n.Name(), Message: err.Error()}
		}
	} else {
		if port <= 0 {
			port = 465
		}
		useSSL = port == 465
	}

	htmlBody, err := buildEmailBody(subject, body, n.now())
	if err != nil {
		n.log(logbus.LevelException, "邮件发送失败", map[string]any{"error": err.Error()})
		return Result{Code: CodeFailed, Channel: n.Name(), Message: err.Error()}
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(sender, n.cfg.SenderName))
	msg.SetHeader("To", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", htmlToText(body))
	msg.AddAlternative("text/html", htmlBody)

	if attachment = strings.TrimSpace(attachment); attachment != "" {
		if st, err := os.Stat(attachment); err == nil && !st.IsDir() {
			msg.Attach(attachment, gomail.Rename(filepath.Base(attachment)))
		} else {
			n.log(logbus.LevelWarn, "找不到指定的附件, 邮件将不带附件发送", map[string]any{"attachment": attachment})
		}
	}

	if err := n.dial(host, port, sender, authCode, useSSL).DialAndSend(msg); err != nil {
		if n.bus != nil {
			n.bus.LogQuiet(logbus.LevelException, "邮件发送失败", map[string]any{"error": err.Error(), "host": host})
		}
		return Result{Code: CodeFailed, Channel: n.Name(), Message: err.Error()}
	}

	n.log(logbus.LevelInfo, "邮件发送成功!", map[string]any{"to": strings.Join(receivers, ",")})
	return Result{Code: CodeOK, Channel: n.Name()}
}

func validateAddresses(sender string, receivers []string) error {
	if _, err := mail.ParseAddress(sender); err != nil {
		return errors.New("invalid sender email")
	}
	for _, r := range receivers {
		if _, err := mail.ParseAddress(r); err != nil {
			return errors.New("invalid receiver email: " + r)
		}
	}
	return nil
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "qq.com" || strings.HasSuffix(domain, ".qq.com") || domain == "foxmail.com" || strings.HasSuffix(domain, ".foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case domain == "163.com" || strings.HasSuffix(domain, ".163.com"):
		return "smtp.163.com", 465, true, nil
	case domain == "126.com" || strings.HasSuffix(domain, ".126.com"):
		return "smtp.126.com", 465, true, nil
	case domain == "yeah.net" || strings.HasSuffix(domain, ".yeah.net"):
		return "smtp.yeah.net", 465, true, nil
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com"):
		return "smtp.office365.com", 587, false, nil
	case domain == "aliyun.com" || strings.HasSuffix(domain, ".aliyun.com"):
		return "smtp.aliyun.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>{{ .Title }}</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#10b981,#0ea5e9);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">{{ .Title }}</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">{{ .At }}</div>
        </div>
        <div style="padding:22px;font-size:13px;line-height:1.8;color:#111827;">
          {{ .Body }}
        </div>
        <div style="padding:0 22px 18px;color:#9ca3af;font-size:12px;">此邮件由系统自动发送</div>
      </div>
    </div>
  </body>
</html>
`))

// buildEmailBody 中 body 视为可信 HTML（调用方已把段落分隔换成 <br>）。
func buildEmailBody(title, body string, at time.Time) (string, error) {
	data := struct {
		Title string
		At    string
		Body  template.HTML
	}{
		Title: title,
		At:    at.Format("2006-01-02 15:04:05"),
		Body:  template.HTML(body),
	}
	var buf bytes.Buffer
	if err := emailHTMLTpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var brTag = regexp.MustCompile(`(?i)<br\s*/?>`)

func htmlToText(body string) string {
	return brTag.ReplaceAllString(body, "\n")
}

func (n *EmailNotifier) log(level logbus.Level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}
