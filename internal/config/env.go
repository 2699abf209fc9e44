package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides 让敏感信息可以放在 .env 或环境变量里，而不写进配置文件。
func (c *Config) applyEnvOverrides() {
	setString(&c.EZWeb.Usernames, "EZWEB_USERNAMES")
	setString(&c.EZWeb.Passwords, "EZWEB_PASSWORDS")
	setString(&c.OCR.Token, "JFBYM_TOKEN")
	setString(&c.Provider.BaseURL, "EZWEB_PORTAL_URL")
	setString(&c.OCR.URL, "EZWEB_OCR_URL")

	setString(&c.Notify.DingTalk.Secret, "DINGTALK_SECRET")
	setString(&c.Notify.DingTalk.AccessToken, "DINGTALK_ACCESS_TOKEN")
	setString(&c.Notify.DingTalk.UserID, "DINGTALK_USERID")

	setString(&c.Notify.Email.Sender, "EMAIL_SENDER")
	setString(&c.Notify.Email.AuthCode, "EMAIL_PASS")
	setString(&c.Notify.Email.Receivers, "RECEIVER_EMAIL")

	setString(&c.Notify.Telegram.Token, "TELEGRAM_TOKEN")
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
