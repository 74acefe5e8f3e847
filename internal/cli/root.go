// Package cli implements the calsync command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"calsync/internal/config"
	"calsync/internal/googleauth"
	"calsync/internal/ics"
	appLog "calsync/internal/log"
	"calsync/internal/notify"
	"calsync/internal/source"
	"calsync/internal/store"
	"calsync/internal/syncer"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/calsync/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// googleOptions are appended to every Google API client.
	googleOptions []option.ClientOption
}

// NewRootCommand creates the root command for the calsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calsync",
		Short: "Sync Slate event feeds into Google Calendar",
		Long: `calsync keeps Google calendars in step with Slate event feeds.

Each registered calendar is reconciled against its feed on a schedule.
Events that already started stay untouched for a one-day grace period.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewColorsCommand(opts))

	return cmd
}

// app is the state shared by one command invocation.
type app struct {
	opts  *RootOptions
	cfg   *config.Config
	store *store.Store
}

// openApp loads the config, sets up logging and opens the store.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ResolvePaths(opts.ConfigPath)

	appLog.SetLevel(appLog.ParseLevel(cfg.Log.Level))
	if opts.Verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}
	if err := appLog.OpenFile(cfg.Log.File); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	st, err := store.Open(cfg.Data.DBPath)
	if err != nil {
		appLog.Close()
		return nil, err
	}
	return &app{opts: opts, cfg: cfg, store: st}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("closing store failed", err)
	}
	appLog.Close()
}

func (a *app) googleAuth() (*googleauth.Manager, error) {
	oauthCfg, err := googleauth.LoadConfig(a.cfg.Google.ClientSecretFile, a.cfg.Server.PublicURL)
	if err != nil {
		return nil, err
	}
	return googleauth.NewManager(oauthCfg, a.store, a.opts.googleOptions...), nil
}

func (a *app) destinations(auth *googleauth.Manager) syncer.DestinationFunc {
	return syncer.GoogleDestinations(auth, a.cfg.Settings.OnCampusLocation, a.opts.googleOptions...)
}

// newSyncer wires the tick runner. The returned Reporter may be nil.
func (a *app) newSyncer(auth *googleauth.Manager) (*syncer.Syncer, *notify.Reporter, error) {
	reporter, err := notify.NewReporter(a.cfg.Sentry)
	if err != nil {
		return nil, nil, err
	}
	n := notify.New(a.cfg.Email, notify.NewMailer(a.cfg.Email), reporter)
	src := source.New(ics.NewFetcher(a.cfg.Data.CacheDir, nil), a.cfg.Location())
	return syncer.New(a.cfg, a.store, src, a.destinations(auth), n), reporter, nil
}
