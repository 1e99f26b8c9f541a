package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"slowburn/pkg/config"
	"slowburn/pkg/version"
)

const defaultConfigPath = "configs/slowburn.yaml"

// Console colours for command output.
var (
	colTitle   = color.New(color.FgCyan, color.Bold)
	colSuccess = color.New(color.FgGreen)
	colInfo    = color.New(color.FgBlue)
	colWarning = color.New(color.FgYellow)
	colError   = color.New(color.FgRed, color.Bold)
)

var configPath string

func main() {
	// A missing .env is normal; keys may come from the config or the shell.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		colError.Fprintf(os.Stderr, "CRITICAL ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slowburn",
		Short: "Slow Burn, an interactive Spanish storybook",
		Long: `Slow Burn plays a short Spanish story line by line, lets you practise
each line aloud and keeps a dictionary of the phrases you have mastered.

Running without a subcommand starts the server.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "init-config",
			Short: "Generate the default config file and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.GenerateDefault(configPath); err != nil {
					return fmt.Errorf("failed to generate config: %w", err)
				}
				colSuccess.Printf("Config file generated: %s\n", configPath)
				return nil
			},
		},
		newWarmCmd(),
	)
	return root
}
