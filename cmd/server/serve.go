package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"booking/internal/app"
	"booking/internal/consumer"
	"booking/internal/handler"
	"booking/internal/migrate"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiration sweeper and the booking.paid consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if migrateUp {
				applied, err := migrate.Up(ctx, rt.db)
				if err != nil {
					return err
				}
				rt.logger.WithField("applied", applied).Info("migrations up to date")
			}

			svc, err := wireServices(ctx, rt, true)
			if err != nil {
				return err
			}

			svc.dispatcher.Start()

			var wg sync.WaitGroup
			if rt.cfg.Sweeper.Enabled {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := svc.sweeper(rt).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						rt.logger.WithError(err).Error("sweeper stopped")
					}
				}()
			}

			if svc.paidSource != nil {
				paid := consumer.NewBookingPaidConsumer(svc.paidSource, svc.bookings, rt.logger.WithField("component", "booking_paid"))
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := paid.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						rt.logger.WithError(err).Error("booking paid consumer stopped")
					}
				}()
			}

			router := app.NewRouter(app.RouterDeps{
				BookingHandler: handler.NewBookingHandler(svc.bookings),
				PaymentHandler: handler.NewPaymentHandler(svc.payments),
				WebhookHandler: handler.NewWebhookHandler(svc.webhooks, svc.payments, rt.logger.WithField("component", "webhook")),
				RedisClient:    svc.redis,
				NewRelicApp:    rt.nrApp,
				Logger:         rt.logger,
				CORSOrigins:    rt.cfg.Server.CORSOrigins,
			})

			server := &http.Server{
				Addr:         ":" + rt.cfg.Server.Port,
				Handler:      router,
				ReadTimeout:  rt.cfg.Server.ReadTimeout,
				WriteTimeout: rt.cfg.Server.WriteTimeout,
			}

			serveErr := make(chan error, 1)
			go func() {
				rt.logger.WithField("port", rt.cfg.Server.Port).Info("starting server")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					rt.logger.WithError(err).Error("server error")
				}
				cancel()
			}
			rt.logger.Info("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				rt.logger.WithError(err).Warn("server forced to shutdown")
			}
			wg.Wait()

			// Events emitted by in-flight requests are drained after the
			// server stops accepting new ones.
			if err := svc.dispatcher.Stop(shutdownCtx); err != nil {
				rt.logger.WithError(err).Warn("dispatcher did not drain")
			}

			rt.logger.Info("server exited")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
