package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/engine"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/notify"
	"ezweb_signin/internal/store/sqlite"
)

type RunLister interface {
	ListRuns(ctx context.Context, f sqlite.RunFilter) ([]model.RunRecord, error)
}

type Scheduler interface {
	Trigger() error
	Next() time.Time
	Spec() string
	Location() *time.Location
}

type Options struct {
	Cfg       config.ServerConfig
	Bus       *logbus.Bus
	Runs      RunLister
	Scheduler Scheduler
	Running   func() bool
	Notifier  notify.Notifier
}

type Server struct {
	cfg       config.ServerConfig
	bus       *logbus.Bus
	runs      RunLister
	scheduler Scheduler
	running   func() bool
	notif     notify.Notifier
	logs      *LogStream
}

func New(opts Options) *Server {
	running := opts.Running
	if running == nil {
		running = func() bool { return false }
	}
	return &Server{
		cfg:       opts.Cfg,
		bus:       opts.Bus,
		runs:      opts.Runs,
		scheduler: opts.Scheduler,
		running:   running,
		notif:     opts.Notifier,
		logs:      NewLogStream(opts.Bus, opts.Cfg.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.logs)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/runs", s.handleRuns)
	api.HandleFunc("/api/v1/batch/trigger", s.handleTrigger)
	api.HandleFunc("/api/v1/schedule", s.handleSchedule)
	api.HandleFunc("/api/v1/notify/test", s.handleNotifyTest)

	mux.Handle("/api/", corsMiddleware(s.cfg.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": s.running()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"), 50)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), sqlite.RunFilter{
		Username: strings.TrimSpace(r.URL.Query().Get("username")),
		Limit:    limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": runs})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler unavailable"})
		return
	}
	if err := s.scheduler.Trigger(); err != nil {
		if errors.Is(err, engine.ErrBatchRunning) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "签到任务正在执行"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if s.bus != nil {
		s.bus.Log(logbus.LevelInfo, "已通过接口触发签到任务", map[string]any{"remote": r.RemoteAddr})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler unavailable"})
		return
	}
	next := s.scheduler.Next()
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"cron":     s.scheduler.Spec(),
		"timezone": s.scheduler.Location().String(),
		"next":     next.Format(time.RFC3339),
		"nextMs":   next.UnixMilli(),
		"running":  s.running(),
	}})
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.notif == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "notifier unavailable"})
		return
	}
	var body struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = "测试通知"
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		text = "这是一封测试通知，收到说明通知配置正确。"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	chat := s.notif.Chat(ctx, title, text)
	mail := s.notif.Mail(ctx, title, strings.ReplaceAll(text, "\n\n", "<br>"), "")
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"chat": chat, "mail": mail}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseInt(v string, def int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}
