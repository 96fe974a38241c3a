package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/utpal16raj09/PerformaMeter/pkg/config"
	"github.com/utpal16raj09/PerformaMeter/pkg/perfwatch"
)

var sampleEndpoints = []string{"/api/users", "/api/orders", "/api/search", "/api/cart"}

func emitCmd() *cobra.Command {
	cfg := config.LoadCollectorConfig()
	var (
		count  int
		target string
	)
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Drive a collector with synthetic or real requests.",
		Long: `Tracks --count requests through a collector and flushes them to the relay.
With --target each request is a real GET against that URL; otherwise the
requests are synthetic samples.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return runEmit(cmd.Context(), cmd.OutOrStdout(), cfg, count, target)
		},
	}
	cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Relay ingestion URL")
	cmd.Flags().StringVar(&cfg.LiveURL, "live", cfg.LiveURL, "Relay websocket URL")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Batch size")
	cmd.Flags().StringVar(&cfg.Store, "store", cfg.Store, "Retention store: memory, file or redis")
	cmd.Flags().StringVar(&cfg.StoreDir, "dir", cfg.StoreDir, "Directory of the file store")
	cmd.Flags().IntVar(&count, "count", 20, "Number of requests to track")
	cmd.Flags().StringVar(&target, "target", "", "URL to issue real GET requests against")
	return cmd
}

func runEmit(ctx context.Context, out io.Writer, cfg config.CollectorConfig, count int, target string) error {
	log := commandLogger(cfg)
	store, err := perfwatch.StoreFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	platform := perfwatch.NewHostPlatform(store)

	opts := perfwatch.OptionsFromConfig(cfg)
	opts.OnDelivery = func(res perfwatch.DeliveryResult) {
		if res.Delivered() {
			log.Info("batch delivered", "channel", res.Channel, "events", res.Count)
			return
		}
		log.Warn("batch not delivered", "channel", res.Channel, "events", res.Count, "error", res.Err)
	}
	collector, err := perfwatch.New(opts, perfwatch.WithLogger(log), perfwatch.WithPlatform(platform))
	if err != nil {
		return err
	}
	defer platform.Recover()

	if target != "" {
		client := &http.Client{Timeout: 10 * time.Second, Transport: collector.RoundTripper(nil)}
		for i := 0; i < count && ctx.Err() == nil; i++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	} else {
		emitSynthetic(collector, count, rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	collector.Destroy()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(collector.Summary())
}

func emitSynthetic(c *perfwatch.Collector, count int, rng *rand.Rand) {
	for i := 0; i < count; i++ {
		endpoint := sampleEndpoints[rng.Intn(len(sampleEndpoints))]
		handle := c.TrackRequest(endpoint, perfwatch.RequestOptions{Method: http.MethodGet})
		time.Sleep(time.Duration(5+rng.Intn(45)) * time.Millisecond)
		status := http.StatusOK
		if rng.Intn(10) == 0 {
			status = http.StatusInternalServerError
		}
		handle.End(status, nil)
	}
}
