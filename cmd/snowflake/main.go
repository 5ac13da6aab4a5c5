package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/internal/config"
)

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "snowflake",
		Short: "Generate and inspect 64-bit snowflake IDs",
		Long: "snowflake issues time-ordered 64-bit IDs made of a 41-bit millisecond offset, " +
			"a 10-bit worker ID and a 12-bit sequence. Worker IDs can be fixed or leased " +
			"from a Postgres, MySQL or Redis registry.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			snowflake.DefaultFormat = snowflake.Format(cfg.Format)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newGenCmd(a),
		newDecodeCmd(a),
		newMigrateCmd(a),
		newNodesCmd(a),
	)
	return root
}

// newLogger writes JSON to stderr so stdout carries only command output.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	if lvl == zapcore.DebugLevel {
		zc.Development = true
	}
	return zc.Build()
}
