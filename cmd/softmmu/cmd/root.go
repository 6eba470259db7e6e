// Package cmd provides the command-line interface of softmmu.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/softmmu/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "softmmu",
		Short: "softmmu inspects and exercises the soft-MMU translation layer.",
		Long: `softmmu prints the effective guest configuration and drives ` +
			`seeded random guest accesses through the translation cache ` +
			`and the typed accessors.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}

	root.PersistentFlags().String("log-level", "info",
		"Log level: debug, info, warn or error")
	root.PersistentFlags().String("env", "",
		"A .env file to read SOFTMMU_* variables from")

	root.AddCommand(newInfoCmd(), newBenchCmd())

	return root
}

// Execute runs the root command and exits through atexit so that recorders
// are flushed.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	levelName, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env")
	if envFile == "" {
		return config.Load()
	}

	return config.Load(envFile)
}
