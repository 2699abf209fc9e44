package utils

import "strings"

const defaultBrowserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// DefaultBrowserUserAgent 返回默认的桌面浏览器 UA。
func DefaultBrowserUserAgent() string {
	return defaultBrowserUserAgent
}

// NormalizeBrowserUserAgent 门户只接受浏览器发起的登录；入参为空或像脚本/客户端库的 UA 时，返回默认 UA。
func NormalizeBrowserUserAgent(ua string) string {
	v := strings.TrimSpace(ua)
	if v == "" {
		return defaultBrowserUserAgent
	}
	if looksLikeBrowserUA(v) {
		return v
	}
	return defaultBrowserUserAgent
}

func looksLikeBrowserUA(ua string) bool {
	s := strings.ToLower(ua)
	for _, bad := range []string{"go-resty", "go-http-client", "python-requests", "curl/", "wget/", "okhttp"} {
		if strings.Contains(s, bad) {
			return false
		}
	}
	return strings.HasPrefix(s, "mozilla/")
}
