package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"booking/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			applied, err := migrate.Up(ctx, rt.db)
			if err != nil {
				return err
			}
			for _, name := range applied {
				cmd.Printf("applied %s\n", name)
			}
			if len(applied) == 0 {
				cmd.Println("nothing to apply")
			}
			return nil
		},
	}
}
