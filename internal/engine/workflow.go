package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/provider"
)

const defaultMaxRetries = 3

type WorkflowOptions struct {
	Portal      provider.Portal
	Solver      provider.CaptchaSolver
	Bus         *logbus.Bus
	Account     model.Account
	SolverToken string
	MaxRetries  int
	RetryWait   time.Duration
	// Sleep 为空时使用 sleepContext。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Workflow 负责单个账号的一次签到：验证码 -> 识别 -> 登录 -> 签到 -> 查积分。
// 前三步失败会整体重试，登录成功后签到和查积分的失败只记录不重试。
// Workflow 只累积提示信息，不负责发送通知。
type Workflow struct {
	portal      provider.Portal
	solver      provider.CaptchaSolver
	bus         *logbus.Bus
	account     model.Account
	solverToken string
	maxRetries  int
	retryWait   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	attempt int
	result  model.AttemptResult
}

func NewWorkflow(opts WorkflowOptions) *Workflow {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryWait := opts.RetryWait
	if retryWait < 0 {
		retryWait = 0
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Workflow{
		portal:      opts.Portal,
		solver:      opts.Solver,
		bus:         opts.Bus,
		account:     opts.Account,
		solverToken: opts.SolverToken,
		maxRetries:  maxRetries,
		retryWait:   retryWait,
		sleep:       sleep,
	}
}

// Result 返回到目前为止累积的全部提示信息。
func (w *Workflow) Result() *model.AttemptResult {
	return &w.result
}

// Run 一旦开始就执行到底：ctx 的取消不会打断本账号的请求和重试等待，单次请求由 HTTP 超时兜底。
func (w *Workflow) Run(ctx context.Context) model.RunOutcome {
	ctx = context.WithoutCancel(ctx)
	for w.attempt = 1; w.attempt <= w.maxRetries; w.attempt++ {
		w.info(fmt.Sprintf("开始第 %d 次尝试...", w.attempt), nil)
		token, ok := w.authenticate(ctx)
		if ok {
			w.checkIn(ctx, token)
			w.queryPoints(ctx, token)
			w.record(logbus.LevelInfo, fmt.Sprintf("验证码识别：第 %d 次尝试成功！", w.attempt))
			return model.RunOutcome{Succeeded: true, AttemptsUsed: w.attempt}
		}
		if w.attempt == w.maxRetries {
			break
		}

		w.result.Append(fmt.Sprintf("第 %d 次尝试失败，%s 后重试...", w.attempt, w.retryWait))
		_ = w.sleep(ctx, w.retryWait)
	}

	w.fail(logbus.LevelError, fmt.Sprintf("经过 %d 次尝试后仍然失败", w.maxRetries), nil)
	return model.RunOutcome{Succeeded: false, AttemptsUsed: w.maxRetries}
}

// authenticate 是可重试的部分：每次都重新获取验证码，token 只在本轮内使用。
func (w *Workflow) authenticate(ctx context.Context) (string, bool) {
	challenge, ok := w.fetchCaptcha(ctx)
	if !ok {
		return "", false
	}
	answer, ok := w.recognizeCaptcha(ctx, challenge)
	if !ok {
		return "", false
	}
	return w.login(ctx, challenge.ID, answer)
}

func (w *Workflow) fetchCaptcha(ctx context.Context) (model.CaptchaChallenge, bool) {
	challenge, err := w.portal.FetchCaptcha(ctx)
	if err != nil {
		if isRejected(err) {
			w.fail(logbus.LevelError, fmt.Sprintf("获取验证码失败: %v", err), err)
		} else {
			w.fail(logbus.LevelException, fmt.Sprintf("请求验证码时发生错误: %v", err), err)
		}
		return model.CaptchaChallenge{}, false
	}
	w.debug("获取验证码成功", map[string]any{"captchaId": challenge.ID})
	return challenge, true
}

func (w *Workflow) recognizeCaptcha(ctx context.Context, challenge model.CaptchaChallenge) (string, bool) {
	answer, err := w.solver.Recognize(ctx, w.solverToken, challenge.Image)
	if err != nil {
		if isRejected(err) {
			w.fail(logbus.LevelError, fmt.Sprintf("验证码识别失败: %v", err), err)
		} else {
			w.fail(logbus.LevelException, fmt.Sprintf("请求验证码识别时发生错误: %v", err), err)
		}
		return "", false
	}
	w.info("验证码识别成功", map[string]any{"answer": answer})
	return answer, true
}

func (w *Workflow) login(ctx context.Context, captchaID, answer string) (string, bool) {
	token, err := w.portal.Login(ctx, w.account, captchaID, answer)
	if err != nil {
		if isRejected(err) {
			w.fail(logbus.LevelError, fmt.Sprintf("登录失败: %v", err), err)
		} else {
			w.fail(logbus.LevelException, fmt.Sprintf("登录时发生错误: %v", err), err)
		}
		return "", false
	}
	w.record(logbus.LevelInfo, "-------> web登录成功！")
	return token, true
}

func (w *Workflow) checkIn(ctx context.Context, token string) {
	res, err := w.portal.CheckIn(ctx, token)
	switch {
	case err != nil && isRejected(err):
		w.fail(logbus.LevelError, fmt.Sprintf("签到失败: %v", err), err)
	case err != nil:
		w.fail(logbus.LevelException, fmt.Sprintf("签到时发生错误: %v", err), err)
	case res.Status == provider.CheckInAlreadyDone:
		detail := res.Data
		if detail == "" {
			detail = res.Message
		}
		w.record(logbus.LevelWarn, "今日已签到: "+detail)
	default:
		w.record(logbus.LevelInfo, "签到成功！")
	}
}

func (w *Workflow) queryPoints(ctx context.Context, token string) {
	points, err := w.portal.QueryPoints(ctx, token)
	if err != nil {
		if isRejected(err) {
			w.fail(logbus.LevelError, fmt.Sprintf("查询积分失败: %v", err), err)
		} else {
			w.fail(logbus.LevelException, fmt.Sprintf("查询积分时发生错误: %v", err), err)
		}
		return
	}
	w.record(logbus.LevelInfo, fmt.Sprintf("查询积分成功: 累计积分 %s, 当前积分 %s", points.Accrued, points.Total))
}

// isRejected 区分业务失败（响应正常但状态不对、格式不符）和网络层错误。
func isRejected(err error) bool {
	var be *provider.BusinessError
	return errors.As(err, &be) || errors.Is(err, provider.ErrMalformedResponse)
}

func (w *Workflow) record(level logbus.Level, line string) {
	w.result.Append(line)
	w.log(level, line, nil)
}

func (w *Workflow) fail(level logbus.Level, line string, err error) {
	w.result.Append(line)
	var fields map[string]any
	if err != nil {
		fields = map[string]any{"error": err.Error()}
	}
	w.log(level, line, fields)
}

func (w *Workflow) info(msg string, fields map[string]any) {
	w.log(logbus.LevelInfo, msg, fields)
}

func (w *Workflow) debug(msg string, fields map[string]any) {
	if w.bus != nil {
		w.bus.LogQuiet(logbus.LevelDebug, msg, w.withContext(fields))
	}
}

func (w *Workflow) log(level logbus.Level, msg string, fields map[string]any) {
	if w.bus != nil {
		w.bus.Log(level, msg, w.withContext(fields))
	}
}

func (w *Workflow) withContext(fields map[string]any) map[string]any {
	out := map[string]any{
		"component": "workflow",
		"username":  w.account.Username,
		"attempt":   w.attempt,
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
