package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shiptrack/internal/auth"
	"shiptrack/internal/config"
	"shiptrack/internal/connection"
	"shiptrack/internal/notify"
	"shiptrack/internal/tracking"
	"shiptrack/internal/updater"
	"shiptrack/internal/view"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "shiptrack",
		Short:         "Follow and report live shipment tracking",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	root.AddCommand(
		newWatchCmd(out),
		newDriveCmd(out),
		newStartCmd(out),
		newStopCmd(out),
		newLinkCmd(out),
	)
	return root
}

// deps is the composition root: one connection manager shared by everything
// built from it.
type deps struct {
	cfg      config.Config
	manager  *connection.Manager
	notifier *notify.Center
	session  *tracking.Session
}

func buildDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	userID, err := auth.UserIDFromToken(cfg.AuthToken)
	if err != nil {
		log.Printf("no user id in token: %v", err)
	}

	manager := connection.NewManager(connection.Options{
		URL:            cfg.SocketURL,
		Token:          cfg.AuthToken,
		UserID:         userID,
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	notifier := notify.NewCenter()
	session := tracking.NewSession(
		tracking.NewClient(cfg.APIBaseURL, cfg.AuthToken),
		manager,
		notifier,
		tracking.SessionConfig{HistoryLimit: cfg.HistoryLimit, RetryDelay: cfg.RetryDelay},
	)

	return &deps{cfg: cfg, manager: manager, notifier: notifier, session: session}, nil
}

func (d *deps) close() {
	d.session.Dispose()
	d.manager.Disconnect()
}

func newWatchCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <shipment-id>",
		Short: "Follow a shipment's live position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			cancelNotify := d.notifier.Subscribe(func(n notify.Notification) {
				fmt.Fprintf(out, "[%s] %s\n", n.Level, n.Message)
			})
			defer cancelNotify()

			model := view.NewModel(view.Coordinate{Lat: d.cfg.FallbackLat, Lng: d.cfg.FallbackLng})
			sub := d.session.OnChange(func(ts tracking.TrackingState) {
				printState(out, model, ts)
			})
			defer sub.Cancel()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := d.session.Initialize(ctx, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(out, "share: %s\n", view.ShareLink(d.cfg.AppOrigin, args[0]))
			waitForInterrupt()
			return nil
		},
	}
}

func newDriveCmd(out io.Writer) *cobra.Command {
	var routePath string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "drive <shipment-id>",
		Short: "Replay a route file as live location updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := loadRoute(routePath)
			if err != nil {
				return err
			}

			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := d.session.Initialize(ctx, args[0]); err != nil {
				return err
			}

			u := updater.New(d.session, updater.NewReplaySource(route, interval), d.notifier)
			defer u.Close()
			sub := u.Bind(d.session)
			defer sub.Cancel()
			u.SetActive(d.session.View().IsActive)

			fmt.Fprintf(out, "driving shipment %s with %d route points\n", args[0], len(route))
			waitForInterrupt()
			return nil
		},
	}
	cmd.Flags().StringVar(&routePath, "route", "-", "route file with lat,lng[,speed[,heading]] lines (- for stdin)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "delay between position reports")
	return cmd
}

func newStartCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "start <shipment-id>",
		Short: "Ask the backend to activate tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flipTracking(cmd.Context(), out, args[0], true)
		},
	}
}

func newStopCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <shipment-id>",
		Short: "Ask the backend to deactivate tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flipTracking(cmd.Context(), out, args[0], false)
		},
	}
}

func newLinkCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "link <shipment-id>",
		Short: "Print the shareable tracking link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, view.ShareLink(cfg.AppOrigin, args[0]))
			return nil
		},
	}
}

func flipTracking(ctx context.Context, out io.Writer, shipmentID string, active bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := tracking.NewClient(cfg.APIBaseURL, cfg.AuthToken)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if active {
		err = client.StartTracking(ctx, shipmentID)
	} else {
		err = client.StopTracking(ctx, shipmentID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tracking %s requested for %s\n", map[bool]string{true: "start", false: "stop"}[active], shipmentID)
	return nil
}

func printState(out io.Writer, model *view.Model, ts tracking.TrackingState) {
	center, zoom := model.Center(ts)
	line := fmt.Sprintf("%s | conn=%s | center=%.4f,%.4f z%d",
		view.StatusLabel(ts), ts.Connection, center.Lat, center.Lng, zoom)
	if ts.LastSample != nil {
		line += fmt.Sprintf(" | last=%.4f,%.4f speed=%.1f", ts.LastSample.Lat, ts.LastSample.Lng, ts.LastSample.Speed)
	}
	if n := len(ts.History); n > 0 {
		line += fmt.Sprintf(" | trail=%d points %.2fkm", n, view.TrailDistanceKm(ts.History))
	}
	if ts.ETA != "" {
		line += " | eta " + ts.ETA
	}
	if ts.LastError != "" {
		line += " | error: " + ts.LastError
	}
	fmt.Fprintln(out, line)
}

func loadRoute(path string) ([]updater.Position, error) {
	if path == "" || path == "-" {
		return updater.ParseRoute(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return updater.ParseRoute(f)
}

func waitForInterrupt() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}
