package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "calsync/internal/log"
	"calsync/internal/scheduler"
	"calsync/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the OAuth callback server",
		Long: `Run a sync tick immediately and then on the configured schedule,
while serving the onboarding flow Slate users are sent to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	spec, err := a.cfg.Schedule()
	if err != nil {
		return err
	}
	auth, err := a.googleAuth()
	if err != nil {
		return err
	}
	s, reporter, err := a.newSyncer(auth)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(spec, func(ctx context.Context) {
		if _, err := s.Tick(ctx, ""); err != nil {
			appLog.Error("sync tick failed", err)
		}
	})
	if err != nil {
		return err
	}

	appLog.Info("calsync serving",
		"schedule", spec,
		"past_days", a.cfg.Sync.PastDays,
		"future_days", a.cfg.Sync.FutureDays,
		"timezone", a.cfg.Sync.DisplayTimezone,
		"concurrency", a.cfg.Sync.Concurrency,
	)
	sched.Start()
	defer sched.Stop()

	err = web.StartServer(ctx, a.cfg, web.NewServer(a.cfg, auth, a.store))
	appLog.Info("shutting down")
	return err
}
