package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ezweb_signin/internal/model"
	"ezweb_signin/internal/notify"
	"ezweb_signin/internal/provider"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:443: connect: connection refused")

// fakePortal 按调用顺序依次返回预设的错误，耗尽后视为成功。
type fakePortal struct {
	mu sync.Mutex

	captchaErrs []error
	loginErrs   []error
	checkIn     provider.CheckInResult
	checkInErr  error
	points      provider.Points
	pointsErr   error

	captchaCalls int
	loginCalls   int
	checkInCalls int
	pointsCalls  int
	issued       []string
	logins       []loginCall
	tokens       []string
}

type loginCall struct {
	Username  string
	CaptchaID string
	Answer    string
}

func (f *fakePortal) Name() string { return "fake" }

func (f *fakePortal) FetchCaptcha(context.Context) (model.CaptchaChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captchaCalls++
	if n := f.captchaCalls; n <= len(f.captchaErrs) && f.captchaErrs[n-1] != nil {
		return model.CaptchaChallenge{}, f.captchaErrs[n-1]
	}
	id := fmt.Sprintf("cap-%d", f.captchaCalls)
	f.issued = append(f.issued, id)
	return model.CaptchaChallenge{ID: id, Image: "img-" + id}, nil
}

func (f *fakePortal) Login(_ context.Context, acc model.Account, captchaID, answer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.logins = append(f.logins, loginCall{Username: acc.Username, CaptchaID: captchaID, Answer: answer})
	if n := f.loginCalls; n <= len(f.loginErrs) && f.loginErrs[n-1] != nil {
		return "", f.loginErrs[n-1]
	}
	return "token-" + captchaID, nil
}

func (f *fakePortal) CheckIn(_ context.Context, token string) (provider.CheckInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkInCalls++
	f.tokens = append(f.tokens, token)
	if f.checkInErr != nil {
		return provider.CheckInResult{}, f.checkInErr
	}
	if f.checkIn.Status == "" {
		return provider.CheckInResult{Status: provider.CheckInDone}, nil
	}
	return f.checkIn, nil
}

func (f *fakePortal) QueryPoints(context.Context, string) (provider.Points, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointsCalls++
	if f.pointsErr != nil {
		return provider.Points{}, f.pointsErr
	}
	if f.points.Total == "" {
		return provider.Points{Accrued: "120", Total: "80"}, nil
	}
	return f.points, nil
}

func (f *fakePortal) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captchaCalls + f.loginCalls + f.checkInCalls + f.pointsCalls
}

type fakeSolver struct {
	errs   []error
	calls  int
	images []string
	tokens []string
}

func (s *fakeSolver) Recognize(_ context.Context, token, image string) (string, error) {
	s.calls++
	s.images = append(s.images, image)
	s.tokens = append(s.tokens, token)
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return "ans" + image[len(image)-1:], nil
}

type sentNotice struct {
	Kind  string
	Title string
	Body  string
	File  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *fakeNotifier) Chat(_ context.Context, title, text string) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{Kind: "chat", Title: title, Body: text})
	return notify.Result{Code: notify.CodeOK, Channel: "fake"}
}

func (n *fakeNotifier) Mail(_ context.Context, subject, body, attachment string) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{Kind: "mail", Title: subject, Body: body, File: attachment})
	return notify.Result{Code: notify.CodeOK, Channel: "email"}
}

func (n *fakeNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

type memStore struct {
	records []model.RunRecord
}

func (m *memStore) InsertRun(_ context.Context, rec model.RunRecord) (model.RunRecord, error) {
	m.records = append(m.records, rec)
	return rec, nil
}

func noSleep(context.Context, time.Duration) error { return nil }
