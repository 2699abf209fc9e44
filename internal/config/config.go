package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ezweb_signin/internal/utils"
)

const (
	DefaultPortalBaseURL = "https://msec.nsfocus.com"
	DefaultOCRURL        = "http://api.jfbym.com/api/YmServer/customApi"
	DefaultOCRType       = "50103"
	DefaultCron          = "0 9 * * *"
	DefaultTimezone      = "Asia/Shanghai"
	DefaultTitlePrefix   = "M-SEC 签到"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Limits   LimitsConfig   `yaml:"limits"`
	Task     TaskConfig     `yaml:"task"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Provider ProviderConfig `yaml:"provider"`
	OCR      OCRConfig      `yaml:"ocr"`
	EZWeb    AccountsConfig `yaml:"ezWeb"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Enabled bool       `yaml:"enabled"`
	Addr    string     `yaml:"addr"`
	Cors    CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	// Quiet 关闭控制台输出，仅写日志文件。
	Quiet bool `yaml:"quiet"`
	// MaxAgeDays 日志文件保留天数。
	MaxAgeDays int `yaml:"maxAgeDays"`
}

func (c LogConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

type ProxyConfig struct {
	Global string `yaml:"global"`
}

type LimitsConfig struct {
	// PortalQPS 限制对签到站点的请求频率，避免触发风控。
	PortalQPS   float64 `yaml:"portalQPS"`
	PortalBurst int     `yaml:"portalBurst"`
}

type TaskConfig struct {
	MaxRetries  int `yaml:"maxRetries"`
	RetryWaitMs int `yaml:"retryWaitMs"`
}

func (c TaskConfig) RetryWait() time.Duration {
	if c.RetryWaitMs < 0 {
		return 0
	}
	if c.RetryWaitMs == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.RetryWaitMs) * time.Millisecond
}

type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
	// SkipStartupRun 为 true 时启动后不立即执行一次签到。
	SkipStartupRun bool `yaml:"skipStartupRun"`
}

func (c ScheduleConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

type ProviderConfig struct {
	BaseURL   string           `yaml:"baseURL"`
	TimeoutMs int              `yaml:"timeoutMs"`
	Retry     ProviderRetryCfg `yaml:"retry"`
	UserAgent string           `yaml:"userAgent"`
	Origin    string           `yaml:"origin"`
	Referer   string           `yaml:"referer"`
}

type ProviderRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ProviderRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c ProviderRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type OCRConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Type      string `yaml:"type"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

func (c OCRConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// AccountsConfig 与旧版 config.ini 的 [EZ_WEB] 段保持一致：两个逗号分隔的并列列表。
type AccountsConfig struct {
	Usernames string `yaml:"usernames"`
	Passwords string `yaml:"passwords"`
}

type NotifyConfig struct {
	TitlePrefix string         `yaml:"titlePrefix"`
	DingTalk    DingTalkConfig `yaml:"dingtalk"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Email       EmailConfig    `yaml:"email"`
}

type DingTalkConfig struct {
	BaseURL     string `yaml:"baseURL"`
	Secret      string `yaml:"secret"`
	AccessToken string `yaml:"accessToken"`
	UserID      string `yaml:"userId"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	ChatID      int64  `yaml:"chatId"`
	APIEndpoint string `yaml:"apiEndpoint"`
}

type EmailConfig struct {
	Sender     string `yaml:"sender"`
	SenderName string `yaml:"senderName"`
	AuthCode   string `yaml:"authCode"`
	Receivers  string `yaml:"receivers"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Attachment string `yaml:"attachment"`
}

// Load 读取配置文件。.ini 后缀按旧版 config.ini 布局解析，其余按 YAML 解析。
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini":
		cfg, err = parseINI(path)
	default:
		cfg, err = parseYAML(path)
	}
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/ezweb_signin.db"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "log_"
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Limits.PortalQPS <= 0 {
		c.Limits.PortalQPS = 2
	}
	if c.Limits.PortalBurst <= 0 {
		c.Limits.PortalBurst = 1
	}
	if c.Task.MaxRetries <= 0 {
		c.Task.MaxRetries = 3
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = DefaultCron
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = DefaultTimezone
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = DefaultPortalBaseURL
	}
	c.Provider.UserAgent = utils.NormalizeBrowserUserAgent(c.Provider.UserAgent)
	if c.Provider.Origin == "" {
		c.Provider.Origin = strings.TrimRight(c.Provider.BaseURL, "/")
	}
	if c.Provider.Referer == "" {
		c.Provider.Referer = strings.TrimRight(c.Provider.BaseURL, "/") + "/auth/login"
	}
	if c.Provider.Retry.Count < 0 {
		c.Provider.Retry.Count = 0
	}
	if c.OCR.URL == "" {
		c.OCR.URL = DefaultOCRURL
	}
	if c.OCR.Type == "" {
		c.OCR.Type = DefaultOCRType
	}
	if c.Notify.TitlePrefix == "" {
		c.Notify.TitlePrefix = DefaultTitlePrefix
	}
	if c.Notify.Email.SenderName == "" {
		c.Notify.Email.SenderName = "签到助手"
	}
}

func (c Config) validate() error {
	if c.Provider.BaseURL == "" {
		return errors.New("provider.baseURL is required")
	}
	if c.OCR.URL == "" {
		return errors.New("ocr.url is required")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if _, err := c.Schedule.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// SplitFields 按逗号拆分并去掉每项首尾空白，但保留空项和位置，
// 用于用户名与密码这种按下标配对的列表。整体为空时返回 nil。
func SplitFields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// SplitList 拆分逗号分隔的列表，去掉首尾空白和空项。
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
