package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/utpal16raj09/PerformaMeter/pkg/aggregate"
	"github.com/utpal16raj09/PerformaMeter/pkg/config"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
	"github.com/utpal16raj09/PerformaMeter/pkg/perfwatch"
)

type tailFlags struct {
	relay    string
	window   int
	interval time.Duration
	json     bool
}

func tailCmd() *cobra.Command {
	flags := tailFlags{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live batches from a relay.",
		Long: `Connects to the relay websocket and prints every batch it broadcasts.
Output is JSON lines when --json is set or stdout is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			asJSON := flags.json || !isTerminal(cmd.OutOrStdout())
			return runTail(ctx, cmd.OutOrStdout(), flags, asJSON)
		},
	}
	cmd.Flags().StringVar(&flags.relay, "relay", "ws://localhost:4000/ws", "Relay websocket URL")
	cmd.Flags().IntVar(&flags.window, "window", metric.DefaultWindowSize, "Number of recent events kept for the closing summary")
	cmd.Flags().DurationVar(&flags.interval, "interval", perfwatch.DefaultReconnectInterval, "Reconnect interval")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print JSON lines")
	return cmd
}

func runTail(ctx context.Context, out io.Writer, flags tailFlags, asJSON bool) error {
	var mu sync.Mutex
	log := commandLogger(config.LoadCollectorConfig())
	sub, err := perfwatch.NewSubscriber(perfwatch.SubscriberOptions{
		URL:               flags.relay,
		Window:            flags.window,
		ReconnectInterval: flags.interval,
		Logger:            log,
		OnBatch: func(batch metric.Batch) {
			mu.Lock()
			defer mu.Unlock()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, evt := range batch {
					_ = enc.Encode(evt)
				}
				return
			}
			printBatch(out, batch)
		},
	})
	if err != nil {
		return err
	}
	sub.Start()
	<-ctx.Done()
	sub.Close()

	mu.Lock()
	defer mu.Unlock()
	if !asJSON {
		printRolling(out, sub.Rolling(), aggregate.Summarize(sub.Snapshot()))
	}
	return nil
}

func printBatch(out io.Writer, batch metric.Batch) {
	summary := aggregate.Summarize(batch)
	fmt.Fprintf(out, "%s  batch=%d requests=%d failures=%s%% avg=%dms\n",
		time.Now().Format(time.TimeOnly), len(batch), summary.TotalRequests, summary.FailureRate, summary.AvgLatency)
	for _, evt := range batch {
		switch evt.Type {
		case metric.TypeAPIRequest:
			fmt.Fprintf(out, "  %-6s %-40s %3d %6.0fms\n", evt.Method, evt.Endpoint, evt.Status, evt.Duration)
		case metric.TypeError:
			fmt.Fprintf(out, "  error  %s\n", evt.Message)
		default:
			fmt.Fprintf(out, "  %-6s %s\n", evt.Type, evt.Name)
		}
	}
}

func printRolling(out io.Writer, rolling aggregate.RollingSnapshot, recent aggregate.Summary) {
	fmt.Fprintf(out, "\nreceived %d batches, %d requests, %d failures (%s%%), avg %dms\n",
		rolling.Batches, rolling.TotalRequests, rolling.TotalFailures, rolling.FailureRate, rolling.AvgLatency)
	fmt.Fprintf(out, "recent window: %d requests across %d endpoints, avg %dms\n",
		recent.TotalRequests, recent.ActiveEndpoints, recent.AvgLatency)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
