package model

// CaptchaChallenge 是站点下发的一次性验证码；Image 为 data-URI 逗号之后的 base64 内容。
type CaptchaChallenge struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}
