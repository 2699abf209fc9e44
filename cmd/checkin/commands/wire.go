package commands

import (
	"context"
	"fmt"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/engine"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/notify"
	"ezweb_signin/internal/provider/jfbym"
	"ezweb_signin/internal/provider/msec"
	"ezweb_signin/internal/store/sqlite"
)

type app struct {
	cfg    config.Config
	bus    *logbus.Bus
	sink   *logbus.Sink
	store  *sqlite.Store
	portal *msec.Provider
	solver *jfbym.Solver
	hub    *notify.Hub
	engine *engine.Engine
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	sink, err := logbus.NewSink(logbus.SinkOptions{
		Name:     "ezweb_signin",
		Dir:      cfg.Log.Dir,
		Level:    logbus.ParseLevel(cfg.Log.Level),
		Console:  !cfg.Log.Quiet,
		MaxAge:   cfg.Log.MaxAge(),
		Location: loc,
	})
	if err != nil {
		return nil, err
	}
	bus := logbus.New(500).WithSink(sink)

	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	a := &app{
		cfg:    cfg,
		bus:    bus,
		sink:   sink,
		store:  store,
		portal: msec.New(cfg.Provider, cfg.Proxy, cfg.Limits, bus),
		solver: jfbym.New(cfg.OCR, cfg.Proxy, bus),
		hub:    notify.NewFromConfig(cfg.Notify, bus),
	}
	a.engine = engine.New(engine.Options{
		Portal:   a.portal,
		Solver:   a.solver,
		Bus:      bus,
		Notifier: a.hub,
		Store:    store,
		// 每次批量都重新读取配置文件里的账号。
		Credentials: config.FileSource{Path: path},
		Task:        cfg.Task,
		TitlePrefix: cfg.Notify.TitlePrefix,
		Attachment:  cfg.Notify.Email.Attachment,
	})
	return a, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	a.bus.Close()
	_ = a.sink.Close()
}
