// Package commands 实现 foodshield-admin 命令行工具。
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Jun20220703/bit216as/internal/api"
	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/pkg/printer"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// deps 命令依赖的外部资源，测试中可替换。
type deps struct {
	openStore func(ctx context.Context, cfg *config.Config) (store.Store, error)
	openRedis func(ctx context.Context, cfg *config.Config) (*redis.Client, error)
}

func defaultDeps() deps {
	return deps{
		openStore: api.OpenStore,
		openRedis: func(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
			if cfg.Redis.Addr == "" {
				return nil, fmt.Errorf("redis.addr is not configured")
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       0,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				_ = rdb.Close()
				return nil, fmt.Errorf("redis ping: %w", err)
			}
			return rdb, nil
		},
	}
}

// app 保存全局 flag 与共享资源。
type app struct {
	deps
	configPath string
	out        *printer.Printer
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, a.out.Error("Failed to load configuration", err.Error(), []string{
			"Check the file passed with --config (default configs/config.json)",
		})
	}
	return cfg, nil
}

func (a *app) withStore(ctx context.Context, fn func(cfg *config.Config, st store.Store) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return a.out.Error("Cannot connect to storage", err.Error(), []string{
			fmt.Sprintf("Verify the %s connection settings", cfg.Storage.Driver),
		})
	}
	defer st.Close(context.Background())
	return fn(cfg, st)
}

// NewRootCmd 构造完整的命令树。
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultDeps())
}

func newRootCmd(d deps) *cobra.Command {
	a := &app{deps: d}
	root := &cobra.Command{
		Use:   "foodshield-admin",
		Short: "Operator tooling for the Food Shield API",
		Long: `foodshield-admin manages the Food Shield backend outside the HTTP API:
schema migration, configuration inspection, account recovery and
notification stream health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config.json")

	root.AddCommand(
		newMigrateCmd(a),
		newConfigCmd(a),
		newUserCmd(a),
		newOutboxCmd(a),
	)
	return root
}

// Execute 运行命令行并输出尚未报告的错误。
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	var reported *printer.ReportedError
	if err != nil && !errors.As(err, &reported) {
		printer.New(root.OutOrStdout(), root.ErrOrStderr()).Fail(err)
	}
	return err
}
