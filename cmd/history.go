/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/kosei/internal/report"
	"github.com/valpere/kosei/internal/store"
	"github.com/valpere/kosei/internal/tokens"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored correction sessions",
	Long: `List, inspect, invalidate and delete the correction sessions stored in
the SQLite database. Stored sessions are reused for identical text checked
with the same policy table.`,
}

// withStore opens the configured database for a history or allow command.
func withStore(fn func(ctx context.Context, db *store.Store) error) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("no database configured (set --db)")
	}
	defer db.Close()
	return fn(context.Background(), db)
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListSessions(ctx, historyLimit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No stored sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tPASSES\tERRORS\tEXHAUSTED\tUSED\tLAST USED\tINVALID\tTEXT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%d\t%s\t%v\t%s\n",
					e.ID, e.Source, e.Iterations, e.Records, e.Exhausted,
					e.UsageCount, formatTime(e.LastUsed), e.Invalidated,
					shortText(e.SourceText, 20))
			}
			return w.Flush()
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with every pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entry, res, err := db.GetSession(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session:  %s (%s)\n", entry.ID, entry.Source)
			fmt.Printf("Policy:   %s\n", entry.PolicyVersion)
			fmt.Printf("Created:  %s\n", formatTime(entry.CreatedAt))
			fmt.Println()
			for _, p := range res.Passes {
				fmt.Printf("Pass %d\n", p.Index)
				fmt.Printf("  Masked Text:    %s\n", p.Masked)
				fmt.Printf("  Completed Text: %s\n", p.Output)
			}
			fmt.Println()

			b := report.NewBuilder(tokens.Japanese(), nil)
			rep := &report.Report{
				FinalText:  res.FinalText,
				Entries:    b.Entries(res, report.Origin{}),
				Warnings:   res.Warnings,
				Iterations: res.Iterations,
				Exhausted:  res.Exhausted,
			}
			if err := report.WriteText(os.Stdout, rep); err != nil {
				return err
			}
			fmt.Printf("\nFinal Completed Text: %s\n", res.FinalText)
			return nil
		})
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			stats, err := db.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			fmt.Printf("Total sessions:   %d\n", stats.TotalSessions)
			fmt.Printf("Active sessions:  %d\n", stats.ActiveSessions)
			fmt.Printf("Invalid sessions: %d\n", stats.InvalidSessions)
			fmt.Printf("Exhausted runs:   %d\n", stats.ExhaustedRuns)
			fmt.Printf("Total errors:     %d\n", stats.TotalRecords)
			fmt.Printf("Total usage:      %d\n", stats.TotalUsage)
			return nil
		})
	},
}

var historyInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Stop reusing a session for identical text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.InvalidateSession(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to invalidate session: %w", err)
			}
			fmt.Printf("Invalidated session: %s\n", args[0])
			return nil
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.DeleteSession(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			fmt.Printf("Deleted session: %s\n", args[0])
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.ClearSessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear sessions: %w", err)
			}
			fmt.Printf("Cleared %d sessions from %s.\n", n, viper.GetString("db"))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum sessions to list (0 = all)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyInvalidateCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
}
