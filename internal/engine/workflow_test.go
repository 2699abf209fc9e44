package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/provider"
)

func newTestWorkflow(p *fakePortal, s *fakeSolver, maxRetries int) *Workflow {
	return NewWorkflow(WorkflowOptions{
		Portal:      p,
		Solver:      s,
		Bus:         logbus.New(100),
		Account:     model.Account{Username: "alice", Password: "pw"},
		SolverToken: "ocr-token",
		MaxRetries:  maxRetries,
		RetryWait:   2 * time.Second,
		Sleep:       noSleep,
	})
}

func TestWorkflowHappyPath(t *testing.T) {
	p := &fakePortal{}
	s := &fakeSolver{}
	wf := newTestWorkflow(p, s, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 1}, out)

	want := []string{
		"-------> web登录成功！",
		"签到成功！",
		"查询积分成功: 累计积分 120, 当前积分 80",
		"验证码识别：第 1 次尝试成功！",
	}
	if diff := cmp.Diff(want, wf.Result().Lines()); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"img-cap-1"}, s.images)
	assert.Equal(t, []string{"ocr-token"}, s.tokens)
	assert.Equal(t, []loginCall{{Username: "alice", CaptchaID: "cap-1", Answer: "ans1"}}, p.logins)
	assert.Equal(t, []string{"token-cap-1"}, p.tokens)
}

func TestWorkflowCaptchaExhaustion(t *testing.T) {
	p := &fakePortal{captchaErrs: []error{errConnRefused, errConnRefused, errConnRefused}}
	s := &fakeSolver{}
	var waits []time.Duration
	wf := newTestWorkflow(p, s, 3)
	wf.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: false, AttemptsUsed: 3}, out)
	assert.Equal(t, 3, p.captchaCalls)
	assert.Zero(t, s.calls)
	assert.Zero(t, p.loginCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waits)

	lines := wf.Result().Lines()
	failures := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "请求验证码时发生错误") {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
	assert.Equal(t, "经过 3 次尝试后仍然失败", lines[len(lines)-1])
}

func TestWorkflowRetryFetchesFreshChallenge(t *testing.T) {
	p := &fakePortal{loginErrs: []error{
		&provider.BusinessError{Status: 400, Message: "验证码错误"},
	}}
	s := &fakeSolver{}
	wf := newTestWorkflow(p, s, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 2}, out)

	require.Len(t, p.logins, 2)
	assert.NotEqual(t, p.logins[0].CaptchaID, p.logins[1].CaptchaID)
	assert.Equal(t, []string{"img-cap-1", "img-cap-2"}, s.images)
	assert.Equal(t, []string{"token-cap-2"}, p.tokens)
	assert.Equal(t, "登录失败: status=400 message=验证码错误", wf.Result().Lines()[0])
}

func TestWorkflowAccumulatesAcrossAttempts(t *testing.T) {
	p := &fakePortal{captchaErrs: []error{
		&provider.BusinessError{Status: 500, Message: "busy"},
		fmt.Errorf("%w: captcha data-uri", provider.ErrMalformedResponse),
	}}
	wf := newTestWorkflow(p, &fakeSolver{}, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 3}, out)

	lines := wf.Result().Lines()
	successAt := -1
	for i, l := range lines {
		if l == "-------> web登录成功！" {
			successAt = i
			break
		}
	}
	require.GreaterOrEqual(t, successAt, 3)
	assert.True(t, strings.HasPrefix(lines[0], "获取验证码失败: status=500"))
	assert.Contains(t, lines, "获取验证码失败: malformed response: captcha data-uri")
	assert.Equal(t, "验证码识别：第 3 次尝试成功！", lines[len(lines)-1])
}

func TestWorkflowOCRFailureRetries(t *testing.T) {
	p := &fakePortal{}
	s := &fakeSolver{errs: []error{&provider.BusinessError{Status: 10002, Message: "余额不足"}, errConnRefused}}
	wf := newTestWorkflow(p, s, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 3}, out)
	assert.Equal(t, 3, p.captchaCalls)
	assert.Equal(t, 1, p.loginCalls)

	lines := wf.Result().Lines()
	assert.Equal(t, "验证码识别失败: status=10002 message=余额不足", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "请求验证码识别时发生错误"))
}

func TestWorkflowCheckInFailureDoesNotRetry(t *testing.T) {
	p := &fakePortal{
		checkInErr: &provider.BusinessError{Status: 500, Message: "系统繁忙"},
		pointsErr:  errConnRefused,
	}
	wf := newTestWorkflow(p, &fakeSolver{}, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 1}, out)
	assert.Equal(t, 1, p.captchaCalls)
	assert.Equal(t, 1, p.loginCalls)
	assert.Equal(t, 1, p.checkInCalls)
	assert.Equal(t, 1, p.pointsCalls)

	lines := wf.Result().Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "签到失败: status=500 message=系统繁忙", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "查询积分时发生错误"))
}

func TestWorkflowAlreadyCheckedIn(t *testing.T) {
	p := &fakePortal{checkIn: provider.CheckInResult{
		Status:  provider.CheckInAlreadyDone,
		Message: "bad request",
		Data:    "今天已经签到过了",
	}}
	wf := newTestWorkflow(p, &fakeSolver{}, 3)

	out := wf.Run(context.Background())
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 1}, out)

	lines := wf.Result().Lines()
	assert.Contains(t, lines, "今日已签到: 今天已经签到过了")
	for _, l := range lines {
		assert.False(t, strings.HasPrefix(l, "签到失败"), l)
	}
	assert.Equal(t, 1, p.captchaCalls)
}

func TestWorkflowRunsToCompletionAfterCancel(t *testing.T) {
	p := &fakePortal{captchaErrs: []error{errConnRefused}}
	wf := newTestWorkflow(p, &fakeSolver{}, 3)
	wf.sleep = sleepContext
	wf.retryWait = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := wf.Run(ctx)
	assert.Equal(t, model.RunOutcome{Succeeded: true, AttemptsUsed: 2}, out)
	assert.Equal(t, 2, p.captchaCalls)
	assert.Equal(t, 1, p.checkInCalls)
	assert.Equal(t, 1, p.pointsCalls)
}

func TestWorkflowDefaults(t *testing.T) {
	wf := NewWorkflow(WorkflowOptions{Portal: &fakePortal{}, Solver: &fakeSolver{}})
	assert.Equal(t, defaultMaxRetries, wf.maxRetries)
	assert.NotNil(t, wf.sleep)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
