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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/kosei/internal/store"
)

var allowCmd = &cobra.Command{
	Use:   "allow",
	Short: "Manage the correction allowlist",
	Long: `Add, list, and delete allowlist terms.

Allowlisted terms are never corrected, even when the classifier flags
them: useful for product names, proper nouns and jargon the models do
not know.`,
}

var allowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all allowlist terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListAllowTerms(ctx)
			if err != nil {
				return fmt.Errorf("failed to list allowlist: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("Allowlist is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTERM\tNOTE\tADDED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Term, e.Note, formatTime(e.CreatedAt))
			}
			return w.Flush()
		})
	},
}

var allowNote string

var allowAddCmd = &cobra.Command{
	Use:   "add <term>",
	Short: "Add or update an allowlist term",
	Long: `Add a term that must never be corrected.

Example:
  kosei allow add "ナツメ社" --note "company name"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			id, err := db.AddAllowTerm(ctx, args[0], allowNote)
			if err != nil {
				return fmt.Errorf("failed to add term: %w", err)
			}
			fmt.Printf("Added: %q (%s)\n", args[0], id)
			return nil
		})
	},
}

var allowDeleteCmd = &cobra.Command{
	Use:   "delete <id|term>",
	Short: "Delete an allowlist term by ID or by the term itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			if err := db.DeleteAllowTerm(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete term: %w", err)
			}
			fmt.Printf("Deleted: %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(allowCmd)

	allowAddCmd.Flags().StringVar(&allowNote, "note", "", "Why the term is allowed")

	allowCmd.AddCommand(allowListCmd)
	allowCmd.AddCommand(allowAddCmd)
	allowCmd.AddCommand(allowDeleteCmd)
}
