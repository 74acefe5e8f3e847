package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"calsync/internal/gcal"
	"calsync/internal/googleauth"
	"calsync/internal/ics"
	"calsync/internal/model"
	"calsync/internal/source"
	"calsync/internal/store"
	"calsync/internal/web"
)

// clearSpan is how far around today clear looks for managed events.
const clearSpan = 1000 * 24 * time.Hour

type addOptions struct {
	feed          string
	slateID       string
	format        string
	onCampusColor string
	otherColor    string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add <calendar-id>",
		Short: "Register a calendar and authorize access to it",
		Long: `Register a Google calendar, identified by its owner's address, and
authorize calsync to write to it. The consent URL is printed; paste the
code Google returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, rootOpts, opts, strings.ToLower(args[0]))
		},
	}
	cmd.Flags().StringVar(&opts.feed, "feed", "", "Slate feed URL")
	cmd.Flags().StringVar(&opts.slateID, "slate-id", "", "Slate user id; builds the feed URL from server.slate_server")
	cmd.Flags().StringVar(&opts.format, "format", "", "feed format (ics|json); detected when empty")
	cmd.Flags().StringVar(&opts.onCampusColor, "on-campus", "", "color id for on-campus events")
	cmd.Flags().StringVar(&opts.otherColor, "other", "", "color id for other events")
	cmd.MarkFlagsMutuallyExclusive("feed", "slate-id")
	return cmd
}

func runAdd(cmd *cobra.Command, rootOpts *RootOptions, opts *addOptions, id string) error {
	switch opts.format {
	case "", source.FormatICS, source.FormatJSON:
	default:
		return fmt.Errorf("invalid format %q: must be ics or json", opts.format)
	}

	a, err := openApp(rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	feed := opts.feed
	if opts.slateID != "" {
		feed = web.FeedURL(a.cfg.Server.SlateServer, opts.slateID)
	}
	if feed == "" {
		return errors.New("one of --feed or --slate-id is required")
	}

	out := cmd.OutOrStdout()
	if _, err := a.store.Get(id); err == nil {
		fmt.Fprintf(out, "Calendar %s already exists.\n", id)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	auth, err := a.googleAuth()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Open this URL in a browser and authorize access:")
	fmt.Fprintln(out, googleauth.AuthURL(auth.Config(), "calsync-cli"))
	fmt.Fprint(out, "Authorization code: ")

	code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	code = strings.TrimSpace(code)
	if code == "" {
		if err != nil {
			return fmt.Errorf("read authorization code: %w", err)
		}
		return errors.New("no authorization code given")
	}

	ctx := cmd.Context()
	tok, err := auth.Exchange(ctx, code)
	if err != nil {
		return err
	}
	email, err := auth.AccountEmail(ctx, tok)
	if err != nil {
		return err
	}
	if email != id {
		return fmt.Errorf("authorized account %s does not own calendar %s", email, id)
	}

	if err := a.store.PutToken(id, tok); err != nil {
		return err
	}
	cal := model.Calendar{
		ID:            id,
		FeedURL:       feed,
		FeedFormat:    opts.format,
		OnCampusColor: opts.onCampusColor,
		OtherColor:    opts.otherColor,
	}
	if err := a.store.Put(cal); err != nil {
		return err
	}
	fmt.Fprintf(out, "Calendar %s added.\n", id)
	return nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <calendar-id>",
		Short: "Unregister a calendar and drop its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			id := strings.ToLower(args[0])
			if err := a.store.Delete(id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("calendar %s does not exist", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Calendar %s deleted.\n", id)
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered calendars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			cals, err := a.store.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALENDAR\tFEED\tFORMAT\tON-CAMPUS\tOTHER\tADDED")
			for _, c := range cals {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, ics.RedactURL(c.FeedURL), orDash(c.FeedFormat),
					orDash(c.OnCampusColor), orDash(c.OtherColor), c.CreatedAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type colorsOptions struct {
	onCampus string
	other    string
}

// NewColorsCommand creates the colors command.
func NewColorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &colorsOptions{}
	cmd := &cobra.Command{
		Use:   "colors <calendar-id>",
		Short: "Show the event palette or set a calendar's colors",
		Long: `Without flags, print the event colors Google offers for the calendar.
With --on-campus and/or --other, store the color ids used for each category.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runColors(cmd, rootOpts, opts, strings.ToLower(args[0]))
		},
	}
	cmd.Flags().StringVar(&opts.onCampus, "on-campus", "", "color id for on-campus events")
	cmd.Flags().StringVar(&opts.other, "other", "", "color id for other events")
	return cmd
}

func runColors(cmd *cobra.Command, rootOpts *RootOptions, opts *colorsOptions, id string) error {
	a, err := openApp(rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	cal, err := a.store.Get(id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	setOnCampus := cmd.Flags().Changed("on-campus")
	setOther := cmd.Flags().Changed("other")
	if setOnCampus || setOther {
		if setOnCampus {
			cal.OnCampusColor = opts.onCampus
		}
		if setOther {
			cal.OtherColor = opts.other
		}
		if err := a.store.Put(cal); err != nil {
			return err
		}
		fmt.Fprintf(out, "Calendar %s colors: on-campus %s, other %s\n", id, orDash(cal.OnCampusColor), orDash(cal.OtherColor))
		return nil
	}

	c, err := a.calendarClient(cmd.Context(), cal)
	if err != nil {
		return err
	}
	colors, err := c.Colors(cmd.Context())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBACKGROUND\tFOREGROUND\tUSE")
	for _, col := range colors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", col.ID, col.Background, col.Foreground, colorUse(cal, col.ID))
	}
	return tw.Flush()
}

func colorUse(cal model.Calendar, id string) string {
	var uses []string
	if cal.OnCampusColor == id {
		uses = append(uses, "on-campus")
	}
	if cal.OtherColor == id {
		uses = append(uses, "other")
	}
	return strings.Join(uses, ",")
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <calendar-id>",
		Short: "Delete every event calsync manages in a calendar",
		Long: `Delete every managed event within 1000 days of today. Events not
created by calsync are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			cal, err := a.store.Get(strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			c, err := a.calendarClient(cmd.Context(), cal)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			n, err := c.Clear(cmd.Context(), now.Add(-clearSpan), now.Add(clearSpan))
			fmt.Fprintf(cmd.OutOrStdout(), "Calendar %s: %d event(s) deleted.\n", cal.ID, n)
			return err
		},
	}
}

// calendarClient opens cal's Google calendar directly.
func (a *app) calendarClient(ctx context.Context, cal model.Calendar) (*gcal.Client, error) {
	auth, err := a.googleAuth()
	if err != nil {
		return nil, err
	}
	hc, err := auth.Client(ctx, cal.ID)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, a.opts.googleOptions...)
	return gcal.New(ctx, gcal.Options{Calendar: cal, OnCampusPrefix: a.cfg.Settings.OnCampusLocation}, opts...)
}
