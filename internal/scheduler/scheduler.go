package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/engine"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/notify"
)

const (
	LabelStartup   = "首次任务执行失败"
	LabelScheduled = "定时任务执行失败"
	LabelManual    = "手动任务执行失败"
)

type Runner interface {
	RunBatch(ctx context.Context) (engine.BatchReport, error)
	Running() bool
}

type Options struct {
	Runner   Runner
	Notifier notify.Notifier
	Bus      *logbus.Bus
	Schedule config.ScheduleConfig
}

// Scheduler 启动时执行一次，之后按 cron 每天定时执行；单次失败不会影响后续调度。
type Scheduler struct {
	runner   Runner
	notifier notify.Notifier
	bus      *logbus.Bus

	spec    string
	loc     *time.Location
	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	baseCtx context.Context
	started bool

	now func() time.Time
}

func New(opts Options) (*Scheduler, error) {
	if opts.Runner == nil {
		return nil, errors.New("runner is required")
	}
	loc, err := opts.Schedule.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	spec := strings.TrimSpace(opts.Schedule.Cron)
	if spec == "" {
		spec = config.DefaultCron
	}

	s := &Scheduler{
		runner:   opts.Runner,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		spec:     spec,
		loc:      loc,
		baseCtx:  context.Background(),
		now:      time.Now,
	}
	logger := cronLogger{bus: opts.Bus}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := s.cron.AddFunc(spec, func() {
		_ = s.Guard(s.context(), LabelScheduled)
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Guard 执行一次批量签到。批量返回错误或 panic 时记录日志并通过聊天和邮件发送失败通知，
// 错误会返回给调用方但不会中断调度。
func (s *Scheduler) Guard(ctx context.Context, label string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		if errors.Is(err, engine.ErrBatchRunning) {
			s.log(logbus.LevelWarn, "上一次签到任务仍在执行，跳过本次触发", nil)
			return
		}
		s.log(logbus.LevelException, fmt.Sprintf("%s: %v", label, err), map[string]any{"error": err.Error()})
		s.notifyBoth(label, fmt.Sprintf("%s: %v", label, err))
	}()

	report, err := s.runner.RunBatch(ctx)
	if err != nil {
		return err
	}
	s.log(logbus.LevelInfo, "签到任务执行完成", map[string]any{
		"accounts":  len(report.Accounts),
		"succeeded": report.Succeeded(),
	})
	return nil
}

// Start 发送启动通知，按需先执行一次，然后开始定时调度。不阻塞。
func (s *Scheduler) Start(ctx context.Context, runNow bool) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()

	now := s.now().In(s.loc).Format("2006-01-02 15:04:05")
	next := s.Next().Format("2006-01-02 15:04:05")
	text := fmt.Sprintf("ez - web 脚本初始化成功 <br/> 任务已设定 (cron: %s, 时区: %s)，下次执行时间: %s。当前时间: %s", s.spec, s.loc, next, now)
	s.log(logbus.LevelInfo, strings.ReplaceAll(text, " <br/> ", "，"), nil)
	s.notifyBoth("脚本初始化成功", text)

	if runNow {
		s.log(logbus.LevelInfo, "脚本首次启动，立即执行一次签到任务...", nil)
		_ = s.Guard(ctx, LabelStartup)
		s.log(logbus.LevelInfo, "首次签到任务执行完成，开始等待定时任务...", nil)
	}
}

// Trigger 在后台执行一次批量签到；已有任务在执行时返回 engine.ErrBatchRunning。
func (s *Scheduler) Trigger() error {
	if s.runner.Running() {
		return engine.ErrBatchRunning
	}
	ctx := s.context()
	go func() {
		_ = s.Guard(ctx, LabelManual)
	}()
	return nil
}

// Stop 停止调度并等待正在执行的任务结束（或 ctx 到期），然后发送停止通知。
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.mu.Unlock()
	if !wasStarted {
		return
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log(logbus.LevelWarn, "等待签到任务结束超时", nil)
	}
	s.log(logbus.LevelInfo, "定时任务已停止", nil)
	s.notifyBoth("定时任务已停止", "定时任务已停止")
}

// Next 返回下一次定时执行的时间（调度器时区）。
func (s *Scheduler) Next() time.Time {
	if e := s.cron.Entry(s.entryID); e.Valid() && !e.Next.IsZero() {
		return e.Next.In(s.loc)
	}
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now().In(s.loc))
}

func (s *Scheduler) Spec() string { return s.spec }

func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) notifyBoth(title, text string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.notifier.Chat(ctx, title, text)
	s.notifier.Mail(ctx, title, text, "")
}

func (s *Scheduler) log(level logbus.Level, msg string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["component"] = "scheduler"
	s.bus.Log(level, msg, fields)
}

type cronLogger struct {
	bus *logbus.Bus
}

func (l cronLogger) fields(keysAndValues []any) map[string]any {
	out := map[string]any{"component": "cron"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.bus != nil {
		l.bus.LogQuiet(logbus.LevelDebug, "cron: "+msg, l.fields(keysAndValues))
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.bus != nil {
		f := l.fields(keysAndValues)
		f["error"] = err.Error()
		l.bus.Log(logbus.LevelError, "cron: "+msg, f)
	}
}
