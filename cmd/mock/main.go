package main

import (
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// 本地联调用的假站点：同时提供 M-SEC 接口和云码识别接口。
// 验证码图片内容就是答案本身的 base64，假识别接口解码即可得到答案。
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	ocrFailRate := flag.Float64("ocr-fail-rate", 0.3, "probability that the OCR endpoint rejects a captcha")
	captchaFailRate := flag.Float64("captcha-fail-rate", 0.1, "probability that the captcha endpoint returns an error status")
	flag.Parse()

	p := newPortal(*ocrFailRate, *captchaFailRate)

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	mux.HandleFunc("/backend_api/account/captcha", post(p.handleCaptcha))
	mux.HandleFunc("/backend_api/account/login", post(p.handleLogin))
	mux.HandleFunc("/backend_api/checkin/checkin", post(p.handleCheckIn))
	mux.HandleFunc("/backend_api/point/common/get", post(p.handlePoints))
	mux.HandleFunc("/api/YmServer/customApi", post(p.handleOCR))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s (portal: http://localhost%s, ocr: http://localhost%s/api/YmServer/customApi)", *addr, *addr, *addr)
	log.Fatal(srv.ListenAndServe())
}

type portal struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	captchas map[string]string
	tokens   map[string]string
	checked  map[string]string
	points   map[string]int

	ocrFailRate     float64
	captchaFailRate float64
}

func newPortal(ocrFailRate, captchaFailRate float64) *portal {
	return &portal{
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
		captchas:        map[string]string{},
		tokens:          map[string]string{},
		checked:         map[string]string{},
		points:          map[string]int{},
		ocrFailRate:     ocrFailRate,
		captchaFailRate: captchaFailRate,
	}
}

func (p *portal) roll(rate float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64() < rate
}

func (p *portal) handleCaptcha(w http.ResponseWriter, _ *http.Request) {
	if p.roll(p.captchaFailRate) {
		writeJSON(w, map[string]any{"status": 500, "message": "验证码服务繁忙"})
		return
	}
	id := randString(16)
	answer := randString(4)
	p.mu.Lock()
	p.captchas[id] = answer
	p.mu.Unlock()

	writeJSON(w, map[string]any{
		"status": 200,
		"data": map[string]any{
			"id":      id,
			"captcha": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(answer)),
		},
	})
}

func (p *portal) handleOCR(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
		Token string `json:"token"`
		Type  string `json:"type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if strings.TrimSpace(body.Token) == "" {
		writeJSON(w, map[string]any{"code": 10001, "msg": "token 无效"})
		return
	}
	if p.roll(p.ocrFailRate) {
		writeJSON(w, map[string]any{"code": 10002, "msg": "识别失败"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		writeJSON(w, map[string]any{"code": 10003, "msg": "图片格式错误"})
		return
	}
	writeJSON(w, map[string]any{
		"code": 10000,
		"msg":  "识别成功",
		"data": map[string]any{"code": 0, "data": string(raw)},
	})
}

func (p *portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username      string `json:"username"`
		Password      string `json:"password"`
		CaptchaID     string `json:"captcha_id"`
		CaptchaAnswer string `json:"captcha_answer"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	want, ok := p.captchas[body.CaptchaID]
	delete(p.captchas, body.CaptchaID)
	p.mu.Unlock()

	switch {
	case !ok:
		writeJSON(w, map[string]any{"status": 400, "message": "验证码已过期"})
		return
	case !strings.EqualFold(want, body.CaptchaAnswer):
		writeJSON(w, map[string]any{"status": 400, "message": "验证码错误"})
		return
	case body.Username == "" || body.Password == "":
		writeJSON(w, map[string]any{"status": 400, "message": "用户名或密码错误"})
		return
	}

	token := "mock_token_" + randString(12)
	p.mu.Lock()
	p.tokens[token] = body.Username
	p.mu.Unlock()
	writeJSON(w, map[string]any{"status": 200, "data": map[string]any{"token": token}})
}

func (p *portal) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	user, ok := p.user(r)
	if !ok {
		writeJSON(w, map[string]any{"status": 401, "message": "未登录"})
		return
	}
	today := time.Now().Format("2006-01-02")

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checked[user] == today {
		writeJSON(w, map[string]any{"status": 400, "message": "签到失败", "data": "今天已经签到过了"})
		return
	}
	p.checked[user] = today
	p.points[user] += 10
	writeJSON(w, map[string]any{"status": 200, "message": "success", "data": "签到成功"})
}

func (p *portal) handlePoints(w http.ResponseWriter, r *http.Request) {
	user, ok := p.user(r)
	if !ok {
		writeJSON(w, map[string]any{"status": 401, "message": "未登录"})
		return
	}
	p.mu.Lock()
	total := p.points[user]
	p.mu.Unlock()
	writeJSON(w, map[string]any{"status": 200, "data": map[string]any{"accrued": total, "total": total}})
}

func (p *portal) user(r *http.Request) (string, bool) {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.tokens[token]
	return u, ok
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
