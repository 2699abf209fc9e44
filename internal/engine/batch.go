package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/notify"
	"ezweb_signin/internal/provider"
)

var (
	ErrAccountMismatch = errors.New("用户名和密码数量不匹配")
	ErrNoAccounts      = errors.New("未配置签到账号")
	ErrBatchRunning    = errors.New("batch already running")
)

type RunStore interface {
	InsertRun(ctx context.Context, rec model.RunRecord) (model.RunRecord, error)
}

type Options struct {
	Portal      provider.Portal
	Solver      provider.CaptchaSolver
	Bus         *logbus.Bus
	Notifier    notify.Notifier
	Store       RunStore
	Credentials config.CredentialSource
	Task        config.TaskConfig
	TitlePrefix string
	Attachment  string
}

type Engine struct {
	portal      provider.Portal
	solver      provider.CaptchaSolver
	bus         *logbus.Bus
	notifier    notify.Notifier
	store       RunStore
	credentials config.CredentialSource

	task        config.TaskConfig
	titlePrefix string
	attachment  string

	running atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Engine {
	prefix := strings.TrimSpace(opts.TitlePrefix)
	if prefix == "" {
		prefix = config.DefaultTitlePrefix
	}
	return &Engine{
		portal:      opts.Portal,
		solver:      opts.Solver,
		bus:         opts.Bus,
		notifier:    opts.Notifier,
		store:       opts.Store,
		credentials: opts.Credentials,
		task:        opts.Task,
		titlePrefix: prefix,
		attachment:  opts.Attachment,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

type AccountReport struct {
	Username string           `json:"username"`
	Outcome  model.RunOutcome `json:"outcome"`
	Lines    []string         `json:"lines"`
	Chat     notify.Result    `json:"chat"`
	Mail     notify.Result    `json:"mail"`
}

// BatchReport 中 Interrupted 表示收到退出信号后剩余账号没有执行。
type BatchReport struct {
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Accounts    []AccountReport `json:"accounts"`
	Interrupted bool            `json:"interrupted,omitempty"`
}

func (r BatchReport) Succeeded() int {
	n := 0
	for _, a := range r.Accounts {
		if a.Outcome.Succeeded {
			n++
		}
	}
	return n
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

// RunBatch 按配置顺序逐个账号签到，每个账号结束后发送一次聊天通知和一次邮件。
// 账号配置有误时直接返回错误，不发起任何请求，也不发送账号通知。
func (e *Engine) RunBatch(ctx context.Context) (BatchReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return BatchReport{}, ErrBatchRunning
	}
	defer e.running.Store(false)

	report := BatchReport{StartedAt: e.now()}

	accounts, token, err := e.loadAccounts()
	if err != nil {
		return report, err
	}

	e.log(logbus.LevelInfo, "开始执行签到任务", map[string]any{"accounts": len(accounts)})
	for i, acc := range accounts {
		// 已开始的账号会执行完，取消只在账号之间生效。
		if ctx.Err() != nil {
			report.Interrupted = true
			e.log(logbus.LevelWarn, "收到退出信号，剩余账号不再执行", map[string]any{
				"skipped": len(accounts) - i,
			})
			break
		}
		report.Accounts = append(report.Accounts, e.runAccount(ctx, acc, token))
	}
	report.FinishedAt = e.now()
	e.log(logbus.LevelInfo, "签到任务执行完毕", map[string]any{
		"accounts":  len(report.Accounts),
		"succeeded": report.Succeeded(),
	})
	return report, nil
}

func (e *Engine) loadAccounts() ([]model.Account, string, error) {
	if e.credentials == nil {
		return nil, "", ErrNoAccounts
	}
	creds, err := e.credentials.Credentials()
	if err != nil {
		e.log(logbus.LevelError, "读取账号配置失败", map[string]any{"error": err.Error()})
		return nil, "", fmt.Errorf("load credentials: %w", err)
	}
	if len(creds.Usernames) != len(creds.Passwords) {
		e.log(logbus.LevelError, "用户名和密码数量不匹配，请检查配置文件。", map[string]any{
			"usernames": len(creds.Usernames),
			"passwords": len(creds.Passwords),
		})
		return nil, "", ErrAccountMismatch
	}
	for i := range creds.Usernames {
		if creds.Usernames[i] == "" || creds.Passwords[i] == "" {
			e.log(logbus.LevelError, "存在空的用户名或密码，请检查配置文件。", map[string]any{
				"index": i,
			})
			return nil, "", ErrAccountMismatch
		}
	}
	if len(creds.Usernames) == 0 {
		e.log(logbus.LevelWarn, "未配置签到账号，跳过本次任务", nil)
		return nil, "", ErrNoAccounts
	}

	accounts := make([]model.Account, 0, len(creds.Usernames))
	for i, u := range creds.Usernames {
		accounts = append(accounts, model.Account{Username: u, Password: creds.Passwords[i]})
	}
	return accounts, creds.SolverToken, nil
}

func (e *Engine) runAccount(ctx context.Context, acc model.Account, solverToken string) AccountReport {
	startedAt := e.now()
	wf := NewWorkflow(WorkflowOptions{
		Portal:      e.portal,
		Solver:      e.solver,
		Bus:         e.bus,
		Account:     acc,
		SolverToken: solverToken,
		MaxRetries:  e.task.MaxRetries,
		RetryWait:   e.task.RetryWait(),
		Sleep:       e.sleep,
	})
	outcome := wf.Run(ctx)
	lines := wf.Result().Lines()

	rep := AccountReport{Username: acc.Username, Outcome: outcome, Lines: lines}
	title := fmt.Sprintf("%s - %s", e.titlePrefix, acc.Username)
	text := wf.Result().Join("\n\n")

	// ctx 取消后仍要发出通知和保存记录。
	notifyCtx := context.WithoutCancel(ctx)
	if e.notifier != nil {
		rep.Chat = e.notifier.Chat(notifyCtx, title, text)
		rep.Mail = e.notifier.Mail(notifyCtx, title, strings.ReplaceAll(text, "\n\n", "<br>"), e.attachment)
	}

	if e.store != nil {
		_, err := e.store.InsertRun(notifyCtx, model.RunRecord{
			Username:   acc.Username,
			Succeeded:  outcome.Succeeded,
			Attempts:   outcome.AttemptsUsed,
			Lines:      lines,
			StartedAt:  startedAt,
			FinishedAt: e.now(),
		})
		if err != nil {
			e.log(logbus.LevelError, "保存签到记录失败", map[string]any{"username": acc.Username, "error": err.Error()})
		}
	}
	return rep
}

func (e *Engine) log(level logbus.Level, msg string, fields map[string]any) {
	if e.bus == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["component"] = "batch"
	e.bus.Log(level, msg, fields)
}
