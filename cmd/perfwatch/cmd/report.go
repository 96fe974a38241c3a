package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/utpal16raj09/PerformaMeter/pkg/aggregate"
	"github.com/utpal16raj09/PerformaMeter/pkg/config"
	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
	"github.com/utpal16raj09/PerformaMeter/pkg/perfwatch"
)

func reportCmd() *cobra.Command {
	cfg := config.LoadCollectorConfig()
	var utc bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the events retained by a collector store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			store, err := perfwatch.StoreFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if closer, ok := store.(io.Closer); ok {
				defer closer.Close()
			}
			loc := time.Local
			if utc {
				loc = time.UTC
			}
			return writeReport(cmd.OutOrStdout(), store, cfg.StorageKey, loc)
		},
	}
	cmd.Flags().StringVar(&cfg.Store, "store", cfg.Store, "Store backend: memory, file or redis")
	cmd.Flags().StringVar(&cfg.StoreDir, "dir", cfg.StoreDir, "Directory of the file store")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address of the redis store")
	cmd.Flags().StringVar(&cfg.StorageKey, "key", cfg.StorageKey, "Retention storage key")
	cmd.Flags().BoolVar(&utc, "utc", false, "Bucket heatmap hours in UTC")
	return cmd
}

func writeReport(out io.Writer, store perfwatch.Store, key string, loc *time.Location) error {
	raw, err := store.Load(key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	events, err := metric.DecodeEvents(raw)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(aggregate.Build(events, loc))
}
