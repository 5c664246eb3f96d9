package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rotor/internal/app"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Account tokens commonly live in a .env next to the config.
			_ = godotenv.Load()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			<-a.Done()

			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx); err != nil {
				return err
			}
			return a.Err()
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "./rotor.yaml", "path to config yaml")
	return cmd
}
