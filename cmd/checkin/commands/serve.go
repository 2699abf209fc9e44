package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"ezweb_signin/internal/httpapi"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/scheduler"
)

var skipStartupRun bool

func init() {
	serveCmd.Flags().BoolVar(&skipStartupRun, "skip-startup-run", false, "do not run a batch immediately on start")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--config <path>] [--skip-startup-run]",
	Short: "Runs the check-in once, then daily on the configured cron schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := scheduler.New(scheduler.Options{
			Runner:   a.engine,
			Notifier: a.hub,
			Bus:      a.bus,
			Schedule: a.cfg.Schedule,
		})
		if err != nil {
			return err
		}

		var server *http.Server
		serverErr := make(chan error, 1)
		if a.cfg.Server.Enabled {
			api := httpapi.New(httpapi.Options{
				Cfg:       a.cfg.Server,
				Bus:       a.bus,
				Runs:      a.store,
				Scheduler: sched,
				Running:   a.engine.Running,
				Notifier:  a.hub,
			})
			server = &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				serverErr <- server.ListenAndServe()
			}()
			a.bus.Log(logbus.LevelInfo, "status server listening", map[string]any{"addr": a.cfg.Server.Addr})
		}

		sched.Start(ctx, !(skipStartupRun || a.cfg.Schedule.SkipStartupRun))

		select {
		case <-ctx.Done():
			a.bus.Log(logbus.LevelInfo, "收到退出信号，正在停止定时任务", nil)
		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.bus.Log(logbus.LevelError, "http server error", map[string]any{"error": err.Error()})
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sched.Stop(shutdownCtx)
		if server != nil {
			_ = server.Shutdown(shutdownCtx)
		}
		return nil
	},
}
