package commands

import (
	"fmt"

	"github.com/Jun20220703/bit216as/internal/pkg/outbox"

	"github.com/spf13/cobra"
)

func newOutboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the notification stream used with stream delivery",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queued and dead-lettered notification counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			rdb, err := a.openRedis(cmd.Context(), cfg)
			if err != nil {
				return a.out.Error("Cannot connect to Redis", err.Error(), []string{"Set REDIS_ADDR or redis.addr in the config file"})
			}
			defer rdb.Close()

			queued, err := rdb.XLen(cmd.Context(), outbox.DefaultStream).Result()
			if err != nil {
				return fmt.Errorf("stream length: %w", err)
			}
			dead, err := rdb.XLen(cmd.Context(), outbox.DefaultStream+":dlq").Result()
			if err != nil {
				return fmt.Errorf("dead letter length: %w", err)
			}

			a.out.Info("Delivery:     %s\n", cfg.Verification.Delivery)
			a.out.Info("Stream:       %s (%d messages)\n", outbox.DefaultStream, queued)
			a.out.Info("Dead letters: %d\n", dead)
			if dead > 0 {
				a.out.Warning("%d notifications could not be delivered, inspect %s:dlq\n", dead, outbox.DefaultStream)
			}
			return nil
		},
	}

	cmd.AddCommand(stats)
	return cmd
}
