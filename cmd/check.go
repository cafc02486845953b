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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/kosei/internal/checker"
	"github.com/valpere/kosei/internal/report"
)

var (
	checkOutput     string
	checkJSON       bool
	checkErrorsJSON string
	checkMarkdown   bool
	checkLint       bool
	checkNoCache    bool
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Detect and correct typos in Japanese text",
	Long: `Detect and correct typos in a Japanese text file (or stdin).

Each line is checked by the token classifier; flagged tokens are deleted
or masked and refilled by the fill predictor, and the corrected text is
checked again until nothing is flagged or --max-iterations is reached.

Examples:
  kosei check draft.txt
  kosei check draft.md --markdown --lint -o fixed.txt
  echo "私はいぬです。" | kosei check --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if name != "" && name == checkOutput {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		text, err := readInput(name, checkMarkdown)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openStore()
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		p, err := buildPipeline(ctx, db, checkLint)
		if err != nil {
			return err
		}

		source := name
		if source == "" {
			source = "stdin"
		}
		rep, err := p.checker.Check(ctx, text, checker.Options{
			Source:  source,
			Lint:    checkLint,
			NoCache: checkNoCache,
		})
		if err != nil {
			return err
		}

		if checkErrorsJSON != "" {
			var buf bytes.Buffer
			if err := report.WriteDump(&buf, rep.FinalText, rep.Records); err != nil {
				return err
			}
			if err := writeFile(checkErrorsJSON, buf.Bytes()); err != nil {
				return err
			}
		}

		if checkOutput != "" {
			if err := writeFile(checkOutput, []byte(rep.FinalText)); err != nil {
				return err
			}
		}

		if checkJSON {
			return report.WriteJSON(os.Stdout, rep)
		}
		if err := report.WriteText(os.Stdout, rep); err != nil {
			return err
		}
		if checkOutput == "" {
			fmt.Printf("\n%s\n", rep.FinalText)
		}
		fmt.Fprintf(os.Stderr, "Checked in %s (%d pass(es))\n", rep.Elapsed.Round(time.Millisecond), rep.Iterations)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "", "Write the corrected text to this file")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")
	checkCmd.Flags().StringVar(&checkErrorsJSON, "errors-json", "", "Write the final text and raw error records to this JSON file")
	checkCmd.Flags().BoolVar(&checkMarkdown, "markdown", false, "Treat the input as Markdown and check only its prose")
	checkCmd.Flags().BoolVar(&checkLint, "lint", false, "Also run the style checks")
	checkCmd.Flags().BoolVar(&checkNoCache, "no-cache", false, "Ignore stored sessions for identical text")
}
