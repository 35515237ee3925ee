package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/internal/config"
	"github.com/MimeLyc/chunked-sql-translator/internal/httpapi"
	"github.com/MimeLyc/chunked-sql-translator/internal/jobs"
	"github.com/MimeLyc/chunked-sql-translator/pkg/icron"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

type cronScheduler interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Workers int
}

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and job queue",
		Long: `Start the HTTP API, the background job queue and the checkpoint pruning schedule.

Queued jobs are stored next to the checkpoints and picked up again after a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides HTTP_ADDR")
	cmd.Flags().IntVar(&opts.Workers, "workers", 2, "jobs run at the same time")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	var extra []config.Option
	settingsPath := config.RuntimeSettingsFilePath()
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		extra = append(extra, config.WithRuntimeSettings(settings))
		log.Info("Loaded runtime settings from %s", settingsPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring runtime settings %s: %v", settingsPath, err)
	}
	extra = append(extra, config.WithHTTPAddr(opts.Addr))

	cfg, err := loadConfig(opts.RootOptions, extra...)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, opts.Service)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue(opts.Workers, a.store, jobs.WithKeyFunc(a.engine.JobKey))
	queue.Start(a.engine.Executor())
	defer queue.Stop()

	scheduler := cron.New()
	retention := cfg.Checkpoint.Retention()
	pruneJob := icron.NewJob(scheduler, func() {
		if _, err := a.prune(context.Background(), retention); err != nil {
			log.Error("%v", err)
		}
	})
	if retention > 0 {
		if err := pruneJob.Reschedule(cfg.Checkpoint.PruneCron); err != nil {
			return err
		}
		logNextPrune(cfg.Checkpoint.PruneCron)
	} else {
		log.Info("Checkpoint retention disabled, snapshots are kept")
	}

	serverOpts := []httpapi.Option{
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled()),
		httpapi.WithDefaultMergeN(cfg.Engine.MergeN),
	}
	settings, err := config.NewRuntimeSettingsStore(cfg.System.SettingsFile, cfg.RuntimeSettings())
	if err != nil {
		log.Warn("Runtime settings API disabled: %v", err)
	} else {
		serverOpts = append(serverOpts,
			httpapi.WithRuntimeSettingsStore(settings),
			httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
				if err := a.applyLLM(next); err != nil {
					return err
				}
				if retention > 0 {
					if err := pruneJob.Reschedule(next.PruneCron); err != nil {
						return err
					}
					logNextPrune(next.PruneCron)
				}
				return nil
			}),
		)
	}
	srv := httpapi.NewServer(a.engine, queue, a.store, serverOpts...)

	log.Info("Listening on %s", cfg.HTTP.Addr)
	return runWithComponents(ctx, cfg.HTTP.Addr, scheduler, srv)
}

func logNextPrune(expr string) {
	info, err := icron.GetTriggerInfo(expr, time.Now())
	if err != nil {
		log.Warn("%v", err)
		return
	}
	log.Info("Next checkpoint prune at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
}

// runWithComponents runs the scheduler and the HTTP server until ctx is
// done or the server fails.
func runWithComponents(ctx context.Context, addr string, scheduler cronScheduler, srv httpServer) error {
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
