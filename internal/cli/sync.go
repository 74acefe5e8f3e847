package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"calsync/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [calendar-id]",
		Short: "Run one sync tick and exit",
		Long: `Reconcile every registered calendar once, or only the given one.
Change mail and the error digest are sent as in a scheduled tick.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			only := ""
			if len(args) == 1 {
				only = args[0]
			}
			return runSync(cmd, rootOpts, only)
		},
	}
}

func runSync(cmd *cobra.Command, opts *RootOptions, only string) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	auth, err := a.googleAuth()
	if err != nil {
		return err
	}
	s, reporter, err := a.newSyncer(auth)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	rep, err := s.Tick(cmd.Context(), only)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), rep)
	if len(rep.Errors) > 0 {
		return fmt.Errorf("sync finished with %d error(s)", len(rep.Errors))
	}
	return nil
}

func printReport(w io.Writer, rep *syncer.Report) {
	ids := make([]string, 0, len(rep.Calendars))
	for id := range rep.Calendars {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		r := rep.Calendars[id]
		fmt.Fprintf(w, "%s: created %d, replaced %d, deleted %d, skipped %d\n",
			id, r.Created, r.Replaced, r.Deleted, r.Skipped)
	}
	for _, e := range rep.Errors {
		fmt.Fprintln(w, "error:", e)
	}
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <calendar-id>",
		Short: "Show what a sync would change without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			auth, err := a.googleAuth()
			if err != nil {
				return err
			}
			s, _, err := a.newSyncer(auth)
			if err != nil {
				return err
			}
			plan, err := s.Plan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), plan.String())
			return err
		},
	}
}
