package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dispatch-engine/internal/coordinator"
	"github.com/example/dispatch-engine/internal/fare"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/problems"
)

var (
	watchZone     string
	watchInterval time.Duration
	watchNoPush   bool
	showAcked     bool
	forceFlag     bool
	flowFlag      string
	noteFlag      string
	driverFlag    string
	kmFlag        float64
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live trip board with problem flags",
	Long: `Live trip board with problem flags.

While the board is open, type "ack <trip>" to hide a trip's problem flag and
"unack <trip>" to show it again.`,
	RunE: runWatch,
}

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "List trips that need attention",
	RunE:  runProblems,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <trip>",
	Short: "Rank drivers for a trip",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggest,
}

var statusCmd = &cobra.Command{
	Use:   "status <trip> <status>",
	Short: "Move a trip to a new status",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

var assignCmd = &cobra.Command{
	Use:   "assign <trip> <driver>",
	Short: "Assign or reassign a driver",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssign,
}

var feeCmd = &cobra.Command{
	Use:   "fee [trip]",
	Short: "Quote the pickup distance fee for a trip, or for --km",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFee,
}

func init() {
	watchCmd.Flags().StringVar(&watchZone, "zone", "", "only show trips in this zone")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
	watchCmd.Flags().BoolVar(&watchNoPush, "no-push", false, "poll only, do not subscribe to pushed events")
	watchCmd.Flags().BoolVar(&showAcked, "show-acked", false, "keep flags on acknowledged trips")
	problemsCmd.Flags().StringVar(&watchZone, "zone", "", "only check trips in this zone")
	suggestCmd.Flags().BoolVar(&forceFlag, "force", false, "include offline drivers")
	statusCmd.Flags().BoolVar(&forceFlag, "force", false, "skip the transition table")
	statusCmd.Flags().StringVar(&flowFlag, "flow", "dispatch", "lifecycle flow: dispatch or passenger")
	assignCmd.Flags().StringVar(&noteFlag, "note", "", "free-text note stored with the assignment")
	feeCmd.Flags().StringVar(&driverFlag, "driver", "", "driver to price (default: assigned driver)")
	feeCmd.Flags().Float64Var(&kmFlag, "km", -1, "price a raw distance in km")

	rootCmd.AddCommand(watchCmd, problemsCmd, suggestCmd, statusCmd, assignCmd, feeCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (s *session) coordinator(zone string) *coordinator.Coordinator {
	s.api.Zone = zone
	s.api.Flow = lifecycle.ParseFlow(flowFlag)
	return coordinator.New(s.api, s.api, s.logger,
		coordinator.WithDetector(problems.NewDetector(s.cfg.Thresholds())),
		coordinator.WithFlow(s.api.Flow))
}

func runWatch(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	interval := watchInterval
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	c := s.coordinator(watchZone)

	if !watchNoPush {
		events, err := s.api.Subscribe(ctx)
		if err != nil {
			// polling still keeps the board current
			s.logger.Warn().Err(err).Msg("push channel unavailable, polling only")
		} else {
			go c.Follow(ctx, events)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, interval) }()

	lines := make(chan string)
	go readLines(ctx, s.in, lines)

	note := ""
	draw := func() error {
		fmt.Fprint(s.out, "\033[H\033[2J")
		if err := renderBoard(s.out, c.View(), c.Problems(showAcked), c.Commands(), c.LastSync()); err != nil {
			return err
		}
		if note != "" {
			fmt.Fprintln(s.out, note)
		}
		return nil
	}

	for {
		select {
		case <-c.Changed():
			if err := draw(); err != nil {
				return err
			}
		case line := <-lines:
			msg, err := consoleCommand(c, line)
			if err != nil {
				msg = "error: " + err.Error()
			}
			note = msg
			if err := draw(); err != nil {
				return err
			}
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

// consoleCommand applies one line typed into the watch board.
func consoleCommand(c *coordinator.Coordinator, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	if len(fields) != 2 {
		return "", errors.New("usage: ack <trip> | unack <trip>")
	}
	trip, ok := c.Trip(fields[1])
	if !ok {
		return "", fmt.Errorf("trip %s: %w", fields[1], models.ErrNotFound)
	}
	switch strings.ToLower(fields[0]) {
	case "ack":
		c.Commands().Acknowledge(trip.ID)
		return "acknowledged " + trip.ID, nil
	case "unack":
		c.Commands().Unacknowledge(trip.ID)
		return "unacknowledged " + trip.ID, nil
	}
	return "", fmt.Errorf("unknown command %q", fields[0])
}

func runProblems(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	c := s.coordinator(watchZone)
	if err := c.Poll(ctx); err != nil {
		return err
	}
	flags := c.Problems(true)
	if len(flags) == 0 {
		fmt.Fprintln(s.out, "no problem trips")
		return nil
	}
	for _, f := range flags {
		fmt.Fprintf(s.out, "%s\t%s\t%s\n", f.TripID, dash(f.Code), f.Reason)
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	res, err := s.api.Suggestions(ctx, args[0], forceFlag)
	if err != nil {
		return err
	}
	return renderSuggestions(s.out, args[0], res)
}

// runStatus goes through the coordinator so the local pre-flight check runs
// before anything is sent.
func runStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	c := s.coordinator("")
	if err := c.Poll(ctx); err != nil {
		return err
	}
	got, err := c.ChangeStatus(ctx, args[0], args[1], forceFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s -> %s\n", args[0], got)
	return nil
}

func runAssign(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	c := s.coordinator("")
	if err := c.Poll(ctx); err != nil {
		return err
	}
	if err := c.AssignDriver(ctx, args[0], args[1], noteFlag); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s assigned to %s\n", args[0], args[1])
	return nil
}

func runFee(cmd *cobra.Command, args []string) error {
	if kmFlag >= 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%.2f km -> %d\n", kmFlag, fare.PickupFee(kmFlag))
		return nil
	}
	if len(args) == 0 {
		return errors.New("pass a trip reference or --km")
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	q, err := s.api.PickupQuote(ctx, args[0], driverFlag)
	if err != nil {
		return err
	}
	return renderQuote(s.out, q)
}
