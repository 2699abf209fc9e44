package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// parseINI 兼容旧版 config/config.ini：
//
//	[EZ_WEB]    usernames / passwords
//	[jfbym]     Token
//	通知相关键（dingding_*、email_*、receiver_email）在任意段中按键名查找。
func parseINI(path string) (Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return Config{}, fmt.Errorf("parse ini: %w", err)
	}

	var cfg Config
	ez := f.Section("ez_web")
	cfg.EZWeb.Usernames = ez.Key("usernames").String()
	cfg.EZWeb.Passwords = ez.Key("passwords").String()
	cfg.OCR.Token = f.Section("jfbym").Key("token").String()

	cfg.Notify.DingTalk.Secret = lookupINI(f, "dingding_secret")
	cfg.Notify.DingTalk.AccessToken = lookupINI(f, "dingding_access_token")
	cfg.Notify.DingTalk.UserID = lookupINI(f, "dingding_userid")

	cfg.Notify.Email.Sender = lookupINI(f, "email_sender")
	cfg.Notify.Email.AuthCode = lookupINI(f, "email_pass")
	cfg.Notify.Email.Receivers = lookupINI(f, "receiver_email")

	cfg.Notify.Telegram.Token = lookupINI(f, "telegram_token")
	if v := lookupINI(f, "telegram_chat_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ini: telegram_chat_id: %w", err)
		}
		cfg.Notify.Telegram.ChatID = id
	}

	cfg.Schedule.Cron = lookupINI(f, "cron")
	cfg.Schedule.Timezone = lookupINI(f, "timezone")
	return cfg, nil
}

func lookupINI(f *ini.File, name string) string {
	for _, sec := range f.Sections() {
		if sec.HasKey(name) {
			return strings.TrimSpace(sec.Key(name).String())
		}
	}
	return ""
}
