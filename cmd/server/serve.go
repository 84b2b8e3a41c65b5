package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sweep scheduler and (optionally) notification workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			// the in-memory queue only reaches workers in this process
			if a.cfg.Store == "memory" {
				withWorker = true
			}
			return a.serve(ctx, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "also run the notification dispatcher in this process")
	return cmd
}

func (a *app) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger = logging.New("http")
	e.Validator = handler.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, router.Handlers{
		Health:        handler.NewHealthHandler(a.healthChecks()),
		Loans:         handler.NewLoanHandler(a.loans),
		Reservations:  handler.NewReservationHandler(a.queueSvc),
		Notifications: handler.NewNotificationHandler(a.dispatcher),
		Admin:         handler.NewAdminHandler(a.ledger, a.queueSvc, a.scanner),
	}, router.Options{
		AuthEnabled: a.cfg.AuthEnabled,
		JWTSecret:   a.cfg.JWTSecret,
		RateLimit:   a.cfg.RateLimit,
		Redis:       a.rdb,
	})
	return e
}

func (a *app) serve(ctx context.Context, withWorker bool) error {
	if !a.cfg.AuthEnabled {
		a.log.Warnf("AUTH_ENABLED=false: /v1 accepts unauthenticated requests")
	}

	var sched *scheduler.Scheduler
	if a.cfg.Schedule.Enabled {
		s, err := scheduler.New(scheduler.Config{
			ExpirySpec:  a.cfg.Schedule.ExpirySpec,
			OverdueSpec: a.cfg.Schedule.OverdueSpec,
		}, a.queueSvc, a.scanner, logging.New("scheduler"))
		if err != nil {
			return err
		}
		sched = s
		sched.Start()
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if withWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.dispatcher.Run(workerCtx); err != nil {
				a.log.Errorf("dispatcher: %v", err)
			}
		}()
	}

	e := a.newEcho()
	addr := ":" + a.cfg.Port
	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("listening on %s (env=%s, store=%s)", addr, a.cfg.Env, a.cfg.Store)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("http shutdown: %v", err)
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	stopWorkers()
	wg.Wait()
	return serveErr
}
