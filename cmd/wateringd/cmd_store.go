/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/wateringd/internal/db"
)

var (
	importReplace bool
	resetForce    bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close(database)
		if err := db.Migrate(database); err != nil {
			return err
		}
		logger.Info().Str("backend", string(cfg.DBBackend)).Msg("schema up to date")
		return nil
	},
}

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Print the compiled trigger table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		if _, err := core.Scheduler.Reload(ctx); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DAY\tTIME\tACTION\tCHANNEL\tLINE")
		for _, t := range core.Scheduler.Triggers() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.Weekday, t.Time, t.Action, t.Channel, t.LineName)
		}
		return tw.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write lines and schedules as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return core.Irrigation.Export(ctx, out)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load lines and schedules from YAML",
	Long: `Load lines and schedules from a YAML export.

Every window goes through the same conflict check as the API; windows that
overlap an existing one are reported and skipped. A running daemon picks up
the change on its next reload (POST /api/v1/reload).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		result, err := core.Irrigation.Import(ctx, in, importReplace)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "lines created: %d, reused: %d, windows created: %d\n", result.LinesCreated, result.LinesReused, result.WindowsCreated)
		for _, reason := range result.Rejected {
			fmt.Fprintf(out, "rejected: %s\n", reason)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every line and schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			fmt.Print("This deletes every watering line and schedule. Type 'yes' to confirm: ")
			response, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			if strings.TrimSpace(strings.ToLower(response)) != "yes" {
				fmt.Println("Reset cancelled.")
				return nil
			}
		}

		ctx := cmd.Context()
		core, err := openCore(ctx)
		if err != nil {
			return err
		}
		defer core.Close()
		return core.Irrigation.Reset(ctx)
	},
}

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Delete existing lines and schedules before importing")
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(migrateCmd, triggersCmd, exportCmd, importCmd, resetCmd)
}
