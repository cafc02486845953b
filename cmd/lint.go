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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	lintMarkdown bool
	lintJSON     bool
)

var lintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Run the style checks only",
	Long: `Report kanji that read better in kana and sentences longer than
style.max_sentence_runes. No model service is needed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		text, err := readInput(name, lintMarkdown)
		if err != nil {
			return err
		}

		l, err := newLinter()
		if err != nil {
			return err
		}
		findings := l.Lint(text)

		if lintJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(findings)
		}
		if len(findings) == 0 {
			fmt.Println("問題は見つかりませんでした。")
			return nil
		}
		for _, f := range findings {
			fmt.Println(f.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().BoolVar(&lintMarkdown, "markdown", false, "Treat the input as Markdown")
	lintCmd.Flags().BoolVar(&lintJSON, "json", false, "Print findings as JSON")
}
