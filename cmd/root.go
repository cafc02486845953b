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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kosei",
	Short: "Japanese typo detection and correction",
	Long: `A CLI application that proofreads Japanese text with a token
classifier and a masked language model, repeating detection and
correction until the classifier finds nothing more to fix.

Configuration is read from flags, KOSEI_* environment variables and
kosei.yaml (in that order of precedence).

Use "kosei check --help" for correction options.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./kosei.yaml or ./configs/kosei.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")

	pf.String("policy-table", "configs/recruit-typo-detector.yaml", "Label policy table")
	pf.Int("max-iterations", 10, "Maximum correction passes per segment")
	pf.Duration("model-timeout", 0, "Timeout for each model call (0 = none)")
	pf.Int("max-chars", 256, "Maximum characters per segment")
	pf.Int("parallel", 4, "Segments corrected concurrently")

	pf.String("classifier-url", "http://localhost:8500", "Token classifier service URL")
	pf.String("classifier-key", "", "Token classifier API key")
	pf.String("predictor", "http", "Fill predictor: http or ollama")
	pf.String("predictor-url", "http://localhost:8501", "Fill predictor service URL")
	pf.String("predictor-key", "", "Fill predictor API key")
	pf.String("mask-token", "[MASK]", "Mask token of the fill predictor")
	pf.String("ollama-url", "http://localhost:11434", "Ollama URL (predictor=ollama)")
	pf.String("ollama-model", "gemma2:9b", "Ollama model (predictor=ollama)")

	pf.String("db", "./data/kosei.db", "Session database path (empty disables history)")

	for _, name := range []string{
		"log-level", "policy-table", "max-iterations", "model-timeout", "max-chars", "parallel",
		"classifier-url", "classifier-key", "predictor", "predictor-url", "predictor-key",
		"mask-token", "ollama-url", "ollama-model", "db",
	} {
		_ = viper.BindPFlag(configKey(name), pf.Lookup(name))
	}

	viper.SetDefault("style.max_sentence_runes", 40)
	viper.SetDefault("style.discouraged", []string{"頂き", "下さい", "所謂", "概ね"})
}

// configKey maps a flag name to its config file key.
func configKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kosei")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
	}

	viper.SetEnvPrefix("KOSEI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if f := viper.ConfigFileUsed(); f != "" {
		slog.Debug("loaded config", "file", f)
	}
	return nil
}
