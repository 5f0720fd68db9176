package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sightsync/internal/bootstrap"
	"sightsync/internal/modules/history/dto"
	"sightsync/internal/platform/config"
	apperrors "sightsync/internal/platform/errors"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	dataDir    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "sightsync",
		Short:         "Insulin pump history sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data", "", "data directory (overrides config)")

	root.AddCommand(newSyncCmd(flags))
	root.AddCommand(newDaemonCmd(flags))
	root.AddCommand(newEventsCmd(flags))
	root.AddCommand(newOffsetCmd(flags))
	root.AddCommand(newNotificationsCmd(flags))
	root.AddCommand(newDecodeCmd(flags))
	return root
}

func loadApp(flags *globalFlags) (*bootstrap.App, error) {
	cfg, err := config.Load(flags.configPath, flags.dataDir)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg)
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one history sync against the pump",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer app.Close()
			result, err := app.HistoryCLI.SyncNow(cmd.Context())
			if errors.Is(err, apperrors.ErrSyncInProgress) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "still syncing")
				return nil
			}
			if err != nil {
				return err
			}
			printSyncResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printSyncResult(w io.Writer, r dto.SyncResult) {
	persisted := 0
	for _, n := range r.Persisted {
		persisted += n
	}
	_, _ = fmt.Fprintf(w, "synced device=%s firmware=%s run=%s\n", r.Device, r.Firmware, r.RunID)
	_, _ = fmt.Fprintf(w, "read direction=%s offset=%d frames=%d skipped=%d isolated=%d\n", r.Direction, r.Offset, r.Frames, r.Skipped, r.Isolated)
	_, _ = fmt.Fprintf(w, "stored persisted=%d duplicates=%d latest=%d took=%s\n", persisted, r.Duplicates, r.Latest, r.Duration.Round(time.Millisecond))
	for _, kind := range slices.Sorted(maps.Keys(r.Persisted)) {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", kind, r.Persisted[kind])
	}
}

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync on an interval; SIGUSR1 requests an immediate sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{Addr: app.Config.Metrics.Addr, Handler: app.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					app.Log.Error("metrics server exited", "addr", server.Addr, "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			requests := make(chan struct{}, 1)
			requests <- struct{}{}
			usr1 := make(chan os.Signal, 1)
			signal.Notify(usr1, syscall.SIGUSR1)
			defer signal.Stop(usr1)
			go forwardRequests(ctx, usr1, requests)

			app.Log.Info("daemon started", "interval", app.Config.Sync.Interval, "metrics", server.Addr)
			err = app.Scheduler.Run(ctx, app.Config.Sync.Interval, requests)
			app.Log.Info("daemon stopped")
			return err
		},
	}
}

// forwardRequests turns signals into sync requests. A request already queued absorbs
// further signals until the scheduler picks it up.
func forwardRequests(ctx context.Context, signals <-chan os.Signal, requests chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			select {
			case requests <- struct{}{}:
			default:
			}
		}
	}
}

func newEventsCmd(flags *globalFlags) *cobra.Command {
	events := &cobra.Command{Use: "events", Short: "Query persisted history events"}

	var device string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest persisted events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer app.Close()
			items, err := app.HistoryCLI.ListEvents(cmd.Context(), device, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}
			for _, e := range items {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\t%s\t%s\n", e.Device, e.Sequence, e.Kind, e.EventTime.Format(timeLayout), formatFields(e.Fields))
			}
			return nil
		},
	}
	list.Flags().StringVar(&device, "device", "", "device serial (default all devices)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	events.AddCommand(list)
	return events
}

func newOffsetCmd(flags *globalFlags) *cobra.Command {
	offset := &cobra.Command{Use: "offset", Short: "Inspect the history read offset"}

	var device string
	show := &cobra.Command{
		Use:   "show --device <serial>",
		Short: "Show the stored read offset of a device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(device) == "" {
				return fmt.Errorf("--device is required")
			}
			app, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.HistoryCLI.ShowOffset(cmd.Context(), device)
			if err != nil {
				return err
			}
			if !out.Found {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "device: %s\ncategory: %s\nsequence: none\n", out.Device, out.Category)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "device: %s\ncategory: %s\nsequence: %d\n", out.Device, out.Category, out.Sequence)
			return nil
		},
	}
	show.Flags().StringVar(&device, "device", "", "device serial")
	offset.AddCommand(show)
	return offset
}

func newNotificationsCmd(flags *globalFlags) *cobra.Command {
	notifications := &cobra.Command{Use: "notifications", Short: "Inspect emitted notifications"}

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer app.Close()
			notes, err := app.HistoryCLI.TailNotifications(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no notifications")
				return nil
			}
			for _, n := range notes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", n.EmittedAt.Format(timeLayout), n.Action, n.Device, formatFields(n.Fields))
			}
			return nil
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "notifications to show from the end")
	notifications.AddCommand(tail)
	return notifications
}

func newDecodeCmd(flags *globalFlags) *cobra.Command {
	var tagText string
	cmd := &cobra.Command{
		Use:   "decode --tag <hex> <payload-hex>",
		Short: "Decode one history frame offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tagText), "0x"), 16, 16)
			if err != nil {
				return fmt.Errorf("--tag must be a 16-bit hex value: %w", err)
			}
			payload, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("payload must be hex: %w", err)
			}
			cfg, err := config.Load(flags.configPath, flags.dataDir)
			if err != nil {
				return err
			}
			decoder, err := bootstrap.NewDecoder(cfg)
			if err != nil {
				return err
			}
			e, err := decoder.DecodeFrame(cmd.Context(), uint16(tag), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "kind: %s\nsequence: %d\nevent_time: %s\n", e.Kind, e.Sequence, e.EventTime.Format(timeLayout))
			for _, key := range slices.Sorted(maps.Keys(e.Fields)) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", key, e.Fields[key])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tagText, "tag", "", "frame tag, e.g. 0x005A")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, fields[key]))
	}
	return strings.Join(parts, " ")
}
