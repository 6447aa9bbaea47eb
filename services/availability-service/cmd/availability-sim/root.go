package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/slotengine/libs/runtime"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/memstore"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

type simOptions struct {
	fixture  string
	provider string
	now      string
	timezone string
	step     int
	leadTime time.Duration
	verbose  bool
}

type sim struct {
	engine *engine.Engine
	store  *memstore.Store
	opts   *simOptions
}

func newRootCmd() *cobra.Command {
	opts := &simOptions{}
	root := &cobra.Command{
		Use:   "availability-sim",
		Short: "Resolve provider availability from a JSON fixture",
		Long: `Runs the availability engine over an in-memory store loaded from a
fixture file, so schedules can be checked without a database.

Examples:
  availability-sim slots --fixture f.json --provider p1 --date 2026-01-13 --duration 30
  availability-sim preview --fixture f.json --provider p1 --from 2026-01-12 --to 2026-01-18
  availability-sim counts --fixture f.json --provider p1 --dates 2026-01-13,2026-01-14`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.fixture, "fixture", "", "path to the JSON fixture (required)")
	pf.StringVar(&opts.provider, "provider", "", "provider id (required)")
	pf.StringVar(&opts.now, "now", "", "evaluation instant in RFC 3339 (default: current time)")
	pf.StringVar(&opts.timezone, "timezone", "UTC", "fallback timezone when no schedule names one")
	pf.IntVar(&opts.step, "step", availability.DefaultStepMinutes, "slot grid step in minutes")
	pf.DurationVar(&opts.leadTime, "lead-time", availability.DefaultLeadTime, "minimum gap between now and a bookable start")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine diagnostics to stderr")
	_ = root.MarkPersistentFlagRequired("fixture")
	_ = root.MarkPersistentFlagRequired("provider")

	root.AddCommand(
		newSlotsCmd(opts),
		newPreviewCmd(opts),
		newCountsCmd(opts),
		newWindowsCmd(opts),
		newReserveCmd(opts),
	)
	return root
}

func (o *simOptions) build(errOut io.Writer) (*sim, error) {
	f, err := os.Open(o.fixture)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	store, err := memstore.Load(f)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if o.now != "" {
		at, err := time.Parse(time.RFC3339, o.now)
		if err != nil {
			return nil, fmt.Errorf("--now: %w", err)
		}
		now = func() time.Time { return at }
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if o.verbose {
		logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else if os.Getenv("LOG_LEVEL") != "" {
		logger = runtime.NewLogger("availability-sim")
	}

	e := engine.New(store, store, logger, engine.Config{
		DefaultTimezone: o.timezone,
		StepMinutes:     o.step,
		LeadTime:        o.leadTime,
		Now:             now,
	})
	return &sim{engine: e, store: store, opts: o}, nil
}

func newSlotsCmd(opts *simOptions) *cobra.Command {
	var (
		date     string
		duration int
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List bookable slots for one date and duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			d, err := tz.ParseDate(date)
			if err != nil {
				return err
			}
			slots, err := s.engine.GetSlotsOnDemand(cmd.Context(), opts.provider, d, duration)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOCAL\tSTART (UTC)\tEND (UTC)\tCAPACITY\tEVENT")
			for _, sl := range slots {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					sl.LocalStartTime,
					sl.StartInstant.Format(time.RFC3339),
					sl.EndInstant.Format(time.RFC3339),
					sl.RemainingCapacity,
					sl.EventID,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d slots\n", len(slots))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local date, YYYY-MM-DD")
	cmd.Flags().IntVar(&duration, "duration", 30, "slot length in minutes")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newPreviewCmd(opts *simOptions) *cobra.Command {
	var (
		from, to  string
		durations []int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show which durations fit on each date of a range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			r, err := parseRange(from, to)
			if err != nil {
				return err
			}
			days, err := s.engine.GetAvailabilityPreview(cmd.Context(), opts.provider, r, durations)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tAVAILABLE\tDURATIONS\tWINDOWS\tSCHEDULE")
			for _, d := range days {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n",
					d.Date,
					d.HasAvailability,
					joinInts(d.AvailableDurations),
					joinWindows(d.Windows),
					d.SourceScheduleID,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	cmd.Flags().IntSliceVar(&durations, "durations", nil, "durations in minutes (default: provider or engine defaults)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newCountsCmd(opts *simOptions) *cobra.Command {
	var (
		dates     []string
		durations []int
	)
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count exact slots per date and duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			parsed := make([]tz.Date, 0, len(dates))
			for _, raw := range dates {
				d, err := tz.ParseDate(raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, d)
			}
			counts, err := s.engine.GetBatchSlotCounts(cmd.Context(), opts.provider, parsed, durations)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range counts {
				parts := make([]string, 0, len(durations))
				for _, d := range sortedKeys(c.Counts) {
					parts = append(parts, fmt.Sprintf("%d=%d", d, c.Counts[d]))
				}
				fmt.Fprintf(out, "%s %s\n", c.Date, strings.Join(parts, " "))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "comma separated dates, YYYY-MM-DD")
	cmd.Flags().IntSliceVar(&durations, "durations", []int{30}, "durations in minutes")
	_ = cmd.MarkFlagRequired("dates")
	return cmd
}

func newWindowsCmd(opts *simOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "Show the schedule that governs a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			d, err := tz.ParseDate(date)
			if err != nil {
				return err
			}
			win, err := s.engine.EffectiveWindows(cmd.Context(), opts.provider, d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "date:     %s\n", win.Date)
			fmt.Fprintf(out, "timezone: %s\n", win.Timezone)
			fmt.Fprintf(out, "template: %s\n", win.TemplateID)
			if win.SourceScheduleID != "" {
				fmt.Fprintf(out, "schedule: %s\n", win.SourceScheduleID)
			}
			for _, sl := range win.Slots {
				fmt.Fprintf(out, "  %s %s-%s\n", sl.DayOfWeek, sl.StartTime, sl.EndTime)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// newReserveCmd books against the in-memory copy of the fixture. The fixture
// file is not modified, so it is only useful to see whether a start would be
// accepted and why it would not.
func newReserveCmd(opts *simOptions) *cobra.Command {
	var (
		start    string
		duration int
		eventID  string
	)
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Check whether a start time would be accepted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			at, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			out, err := s.engine.ValidateAndReserveSlot(cmd.Context(), engine.ReserveRequest{
				ProviderID:      opts.provider,
				Start:           at,
				DurationMinutes: duration,
				EventID:         eventID,
			})
			var conflict *reservation.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", conflict.Reason)
				return err
			}
			if err != nil {
				return err
			}
			b := out.Booking
			fmt.Fprintf(cmd.OutOrStdout(), "accepted: %s %s-%s\n",
				b.ID, b.ScheduledAt.Format(time.RFC3339), b.EndsAt().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start instant in RFC 3339")
	cmd.Flags().IntVar(&duration, "duration", 30, "length in minutes")
	cmd.Flags().StringVar(&eventID, "event", "", "book a seat in this calendar event")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func parseRange(from, to string) (tz.DateRange, error) {
	f, err := tz.ParseDate(from)
	if err != nil {
		return tz.DateRange{}, err
	}
	t, err := tz.ParseDate(to)
	if err != nil {
		return tz.DateRange{}, err
	}
	return tz.DateRange{From: f, To: t}, nil
}

func joinInts(in []int) string {
	if len(in) == 0 {
		return "-"
	}
	parts := make([]string, len(in))
	for i, v := range in {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

func joinWindows(in []availability.Window) string {
	if len(in) == 0 {
		return "-"
	}
	parts := make([]string, len(in))
	for i, w := range in {
		parts[i] = w.Start.String() + "-" + w.End.String()
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// execute runs the root command with args, for tests.
func execute(ctx context.Context, out io.Writer, args ...string) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}
