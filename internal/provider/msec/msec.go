package msec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/provider"
)

const (
	captchaPath = "/backend_api/account/captcha"
	loginPath   = "/backend_api/account/login"
	checkInPath = "/backend_api/checkin/checkin"
	pointsPath  = "/backend_api/point/common/get"

	statusOK = 200
)

// Provider 持有两个 client：验证码、登录、签到都不可重放，走不重试的 once；
// 只有查积分可以安全重发，走带重试的 client。
type Provider struct {
	cfg     config.ProviderConfig
	bus     *logbus.Bus
	client  *resty.Client
	once    *resty.Client
	limiter *rate.Limiter
}

func New(cfg config.ProviderConfig, proxyCfg config.ProxyConfig, limits config.LimitsConfig, bus *logbus.Bus) *Provider {
	p := &Provider{cfg: cfg, bus: bus}
	if limits.PortalQPS > 0 {
		burst := limits.PortalBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(limits.PortalQPS), burst)
	}
	p.client = p.newClient(proxyCfg, cfg.Retry.Count)
	p.once = p.newClient(proxyCfg, 0)
	return p
}

func (p *Provider) Name() string { return "msec" }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type captchaData struct {
	ID      string `json:"id"`
	Captcha string `json:"captcha"`
}

type loginReq struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

type loginData struct {
	Token string `json:"token"`
}

func (p *Provider) FetchCaptcha(ctx context.Context) (model.CaptchaChallenge, error) {
	var resp envelope
	if err := p.post(ctx, p.once, captchaPath, "", struct{}{}, &resp); err != nil {
		return model.CaptchaChallenge{}, err
	}
	if resp.Status != statusOK {
		return model.CaptchaChallenge{}, businessError(resp)
	}
	var data captchaData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return model.CaptchaChallenge{}, fmt.Errorf("%w: captcha data: %v", provider.ErrMalformedResponse, err)
	}
	image, err := dataURIPayload(data.Captcha)
	if err != nil {
		return model.CaptchaChallenge{}, err
	}
	if strings.TrimSpace(data.ID) == "" {
		return model.CaptchaChallenge{}, fmt.Errorf("%w: empty captcha id", provider.ErrMalformedResponse)
	}
	return model.CaptchaChallenge{ID: data.ID, Image: image}, nil
}

func (p *Provider) Login(ctx context.Context, account model.Account, captchaID, answer string) (string, error) {
	var resp envelope
	err := p.post(ctx, p.once, loginPath, "", loginReq{
		Username:      account.Username,
		Password:      account.Password,
		CaptchaID:     captchaID,
		CaptchaAnswer: answer,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Status != statusOK {
		return "", businessError(resp)
	}
	var data loginData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("%w: login data: %v", provider.ErrMalformedResponse, err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("%w: empty token", provider.ErrMalformedResponse)
	}
	return data.Token, nil
}

func (p *Provider) CheckIn(ctx context.Context, token string) (provider.CheckInResult, error) {
	var resp envelope
	if err := p.post(ctx, p.once, checkInPath, token, struct{}{}, &resp); err != nil {
		return provider.CheckInResult{}, err
	}
	data := dataText(resp.Data)
	switch {
	case resp.Status == statusOK:
		return provider.CheckInResult{Status: provider.CheckInDone, Message: resp.Message, Data: data}, nil
	case isAlreadyCheckedIn(resp.Status, resp.Message, data):
		return provider.CheckInResult{Status: provider.CheckInAlreadyDone, Message: resp.Message, Data: data}, nil
	default:
		return provider.CheckInResult{}, businessError(resp)
	}
}

func (p *Provider) QueryPoints(ctx context.Context, token string) (provider.Points, error) {
	var resp envelope
	if err := p.post(ctx, p.client, pointsPath, token, struct{}{}, &resp); err != nil {
		return provider.Points{}, err
	}
	if resp.Status != statusOK {
		return provider.Points{}, businessError(resp)
	}
	var pts provider.Points
	if err := json.Unmarshal(resp.Data, &pts); err != nil {
		return provider.Points{}, fmt.Errorf("%w: points data: %v", provider.ErrMalformedResponse, err)
	}
	if pts.Accrued == "" || pts.Total == "" {
		return provider.Points{}, fmt.Errorf("%w: points data missing accrued/total", provider.ErrMalformedResponse)
	}
	return pts, nil
}

// post 发送 JSON 请求。非 2xx 但带有业务信封的响应照常解析，交给调用方按 status 判断。
func (p *Provider) post(ctx context.Context, client *resty.Client, path, token string, body any, out *envelope) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(out).
		ForceContentType("application/json")
	if token != "" {
		req.SetHeader("Authorization", token)
	}
	resp, err := req.Post(path)
	if resp != nil && resp.IsError() && out.Status == 0 {
		return fmt.Errorf("http status %d", resp.StatusCode())
	}
	return err
}

func (p *Provider) newClient(proxyCfg config.ProxyConfig, retryCount int) *resty.Client {
	client := resty.New().
		SetLogger(provider.RestyLogger{Bus: p.bus, Component: "msec"}).
		SetBaseURL(strings.TrimRight(p.cfg.BaseURL, "/")).
		SetTimeout(p.cfg.Timeout()).
		SetRetryCount(retryCount).
		SetRetryWaitTime(p.cfg.Retry.Wait()).
		SetRetryMaxWaitTime(p.cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeaders(map[string]string{
			"User-Agent":   p.cfg.UserAgent,
			"Content-Type": "application/json",
			"Accept":       "*/*",
		})
	if p.cfg.Origin != "" {
		client.SetHeader("Origin", p.cfg.Origin)
	}
	if p.cfg.Referer != "" {
		client.SetHeader("Referer", p.cfg.Referer)
	}
	if proxyCfg.Global != "" {
		client.SetProxy(proxyCfg.Global)
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if p.bus != nil {
			p.bus.LogQuiet(logbus.LevelDebug, "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	return client
}

// dataURIPayload 取 "data:image/png;base64,xxxx" 中逗号之后的部分。
func dataURIPayload(uri string) (string, error) {
	_, payload, ok := strings.Cut(uri, ",")
	if !ok || strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("%w: captcha is not a data uri", provider.ErrMalformedResponse)
	}
	return payload, nil
}

func dataText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isAlreadyCheckedIn(status int, message, data string) bool {
	if status != 400 {
		return false
	}
	return strings.Contains(data, "已经签到") || strings.Contains(message, "已经签到")
}

func businessError(resp envelope) error {
	return &provider.BusinessError{
		Status:  resp.Status,
		Message: resp.Message,
		Data:    dataText(resp.Data),
	}
}
