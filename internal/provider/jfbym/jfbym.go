package jfbym

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/provider"
)

// codeOK 云码接口成功时返回的 code。
const codeOK = 10000

type Solver struct {
	cfg    config.OCRConfig
	client *resty.Client
}

func New(cfg config.OCRConfig, proxyCfg config.ProxyConfig, bus *logbus.Bus) *Solver {
	client := resty.New().
		SetLogger(provider.RestyLogger{Bus: bus, Component: "jfbym"}).
		SetTimeout(cfg.Timeout()).
		SetHeader("Content-Type", "application/json")
	if proxyCfg.Global != "" {
		client.SetProxy(proxyCfg.Global)
	}
	return &Solver{cfg: cfg, client: client}
}

type solveRequest struct {
	Image string `json:"image"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

type solveResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type solveItem struct {
	Code int    `json:"code"`
	Data string `json:"data"`
}

func (s *Solver) Recognize(ctx context.Context, token, image string) (string, error) {
	var resp solveResponse
	r, err := s.client.R().
		SetContext(ctx).
		SetBody(solveRequest{Image: image, Token: token, Type: s.cfg.Type}).
		SetResult(&resp).
		ForceContentType("application/json").
		Post(s.cfg.URL)
	if err != nil {
		return "", err
	}
	if r.IsError() {
		return "", fmt.Errorf("http status %d", r.StatusCode())
	}
	if resp.Code != codeOK {
		return "", &provider.BusinessError{Status: resp.Code, Message: resp.Msg}
	}

	var item solveItem
	if err := json.Unmarshal(resp.Data, &item); err != nil {
		return "", fmt.Errorf("%w: ocr data: %v", provider.ErrMalformedResponse, err)
	}
	answer := strings.TrimSpace(item.Data)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", provider.ErrMalformedResponse)
	}
	return answer, nil
}

var _ provider.CaptchaSolver = (*Solver)(nil)
