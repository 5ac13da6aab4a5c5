package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/internal/config"
	"github.com/paraglidehq/snowflake/postgres"
)

func newDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <id>...",
		Short: "Split IDs into time, worker and sequence",
		Long:  "decode parses each argument in --format and prints its parts, interpreting the offset against --epoch.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOFFSET\tTIME\tWORKER\tSEQUENCE")
			for _, arg := range args {
				id, err := snowflake.ParseFormat(arg, snowflake.Format(a.cfg.Format))
				if err != nil {
					return fmt.Errorf("decode %q: %w", arg, err)
				}
				p := snowflake.Decompose(id)
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\n",
					arg, p.Offset, id.TimeAt(a.cfg.Epoch).UTC().Format(time.RFC3339Nano), p.WorkerID, p.Sequence)
			}
			return w.Flush()
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the worker registry tables",
		Long: "migrate creates the worker registry tables. On Postgres it also records the epoch " +
			"and installs SQL functions such as snowflake_time(id) and snowflake_worker(id).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := a.cfg.Registry.Kind
			if kind != config.RegistryPostgres && kind != config.RegistryMySQL {
				return fmt.Errorf("migrate needs --registry postgres or mysql, got %q", kind)
			}
			s, db, err := openSQLStore(cmd.Context(), a.cfg.Registry, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}
			if kind == config.RegistryPostgres {
				if err := postgres.Migrate(cmd.Context(), db, a.cfg.Epoch); err != nil {
					return err
				}
			}
			a.logger.Info("registry migrated", zap.String("registry", kind))
			return nil
		},
	}
}

func newNodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List workers known to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd.Context(), a.cfg.Registry, a.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			nodes, err := store.Nodes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKER\tOWNER\tONLINE\tBUSY\tLAST SEEN")
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					n.WorkerID, n.Owner, strconv.FormatBool(n.Online), strconv.FormatBool(n.Busy),
					n.LastSeen.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
