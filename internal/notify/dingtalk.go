package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/provider"
)

const defaultDingTalkURL = "https://oapi.dingtalk.com/robot/send"

// 钉钉机器人返回这两个 errcode 时表示签名/关键字校验不通过。
var dingTalkRejectCodes = map[int]bool{300005: true, 310000: true}

type DingTalk struct {
	cfg    config.DingTalkConfig
	bus    *logbus.Bus
	client *resty.Client
	now    func() time.Time
}

func NewDingTalk(cfg config.DingTalkConfig, bus *logbus.Bus) *DingTalk {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDingTalkURL
	}
	return &DingTalk{
		cfg:    cfg,
		bus:    bus,
		client: resty.New().
			SetLogger(provider.RestyLogger{Bus: bus, Component: "dingtalk"}).
			SetTimeout(10 * time.Second),
		now:    time.Now,
	}
}

func (d *DingTalk) Name() string { return "dingtalk" }

type dingTalkMessage struct {
	MsgType  string           `json:"msgtype"`
	Markdown dingTalkMarkdown `json:"markdown"`
	At       dingTalkAt       `json:"at"`
}

type dingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type dingTalkAt struct {
	AtUserIDs []string `json:"atUserIds"`
	IsAtAll   bool     `json:"isAtAll"`
}

type dingTalkResp struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalk) Send(ctx context.Context, title, text string) Result {
	secret := strings.TrimSpace(d.cfg.Secret)
	accessToken := strings.TrimSpace(d.cfg.AccessToken)
	userID := strings.TrimSpace(d.cfg.UserID)
	if secret == "" || accessToken == "" || userID == "" {
		d.log(logbus.LevelWarn, "配置文件为空,跳过钉钉通知", nil)
		return Result{Code: CodeNotConfigured, Channel: d.Name(), Message: "配置文件为空,跳过钉钉通知"}
	}

	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	body := dingTalkMessage{
		MsgType:  "markdown",
		Markdown: dingTalkMarkdown{Title: title, Text: "@" + userID + text},
		At:       dingTalkAt{AtUserIDs: []string{userID}},
	}

	var resp dingTalkResp
	r, err := d.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_token": accessToken,
			"timestamp":    timestamp,
			"sign":         SignDingTalk(secret, timestamp),
		}).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&resp).
		ForceContentType("application/json").
		Post(d.cfg.BaseURL)
	if err != nil {
		d.log(logbus.LevelException, "dingding推送失败", map[string]any{"error": err.Error()})
		return Result{Code: CodeFailed, Channel: d.Name(), Message: err.Error()}
	}
	if r.IsError() {
		msg := fmt.Sprintf("http status %d", r.StatusCode())
		d.log(logbus.LevelError, "dingding推送失败", map[string]any{"error": msg})
		return Result{Code: CodeFailed, Channel: d.Name(), Message: msg}
	}
	if dingTalkRejectCodes[resp.ErrCode] {
		d.log(logbus.LevelError, "dingding推送被拒绝", map[string]any{"errcode": resp.ErrCode, "errmsg": resp.ErrMsg})
		return Result{Code: CodeForbidden, Channel: d.Name(), Message: resp.ErrMsg}
	}
	if resp.ErrCode != 0 {
		d.log(logbus.LevelError, "dingding推送失败", map[string]any{"errcode": resp.ErrCode, "errmsg": resp.ErrMsg})
		return Result{Code: CodeFailed, Channel: d.Name(), Message: resp.ErrMsg}
	}

	if d.bus != nil {
		d.bus.LogQuiet(logbus.LevelInfo, "dingding request", map[string]any{"title": title, "text": text})
	}
	d.log(logbus.LevelInfo, "dingding推送成功！", nil)
	return Result{Code: CodeOK, Channel: d.Name()}
}

// SignDingTalk 计算加签：base64(HMAC-SHA256(secret, timestamp + "\n" + secret))。
// 返回值未做 URL 编码，放进 query 参数时由 HTTP 客户端编码。
func SignDingTalk(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (d *DingTalk) log(level logbus.Level, msg string, fields map[string]any) {
	if d.bus != nil {
		d.bus.Log(level, msg, fields)
	}
}
