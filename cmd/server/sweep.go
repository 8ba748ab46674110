package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reject approved bookings whose payment window has passed, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc, err := wireServices(ctx, rt, false)
			if err != nil {
				return err
			}
			svc.dispatcher.Start()

			res, sweepErr := svc.sweeper(rt).SweepOnce(ctx)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := svc.dispatcher.Stop(stopCtx); err != nil {
				rt.logger.WithError(err).Warn("dispatcher did not drain")
			}

			rt.logger.WithFields(logrus.Fields{
				"scanned": res.Scanned,
				"expired": res.Expired,
				"skipped": res.Skipped,
				"failed":  res.Failed,
			}).Info("sweep finished")
			return sweepErr
		},
	}
}
