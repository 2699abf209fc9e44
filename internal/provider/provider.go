package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ezweb_signin/internal/model"
)

// ErrMalformedResponse 表示响应格式不符合预期（缺字段、data-URI 无逗号等）。
var ErrMalformedResponse = errors.New("malformed response")

// BusinessError 是格式正常但状态码不是成功值的响应。
type BusinessError struct {
	Status  int
	Message string
	Data    string
}

func (e *BusinessError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("status=%d message=%s data=%s", e.Status, e.Message, e.Data)
	}
	return fmt.Sprintf("status=%d message=%s", e.Status, e.Message)
}

type CheckInStatus string

const (
	CheckInDone CheckInStatus = "done"
	// CheckInAlreadyDone 今天已经签到过，不算失败。
	CheckInAlreadyDone CheckInStatus = "already"
)

type CheckInResult struct {
	Status  CheckInStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Data    string        `json:"data,omitempty"`
}

type Points struct {
	Accrued json.Number `json:"accrued"`
	Total   json.Number `json:"total"`
}

type Portal interface {
	Name() string

	FetchCaptcha(ctx context.Context) (model.CaptchaChallenge, error)
	Login(ctx context.Context, account model.Account, captchaID, answer string) (string, error)
	CheckIn(ctx context.Context, token string) (CheckInResult, error)
	QueryPoints(ctx context.Context, token string) (Points, error)
}

type CaptchaSolver interface {
	Recognize(ctx context.Context, token, image string) (string, error)
}
