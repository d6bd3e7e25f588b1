// ABOUTME: Entry point for fluxer-bot, a gateway client that echoes chat commands
// ABOUTME: Wires config, logging, metrics, the raw event ledger and the client behind cobra commands

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var version = "dev"

const banner = `
  __ _                       _           _
 / _| |_   ___  _____ _ __  | |__   ___ | |_
| |_| | | | \ \/ / _ \ '__| | '_ \ / _ \| __|
|  _| | |_| |>  <  __/ |    | |_) | (_) | |_
|_| |_|\__,_/_/\_\___|_|    |_.__/ \___/ \__|
`

// getConfigPath returns the path to the bot config file.
// Priority: FLUXER_CONFIG env var > XDG_CONFIG_HOME/fluxer/bot.yaml > ~/.config/fluxer/bot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FLUXER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bot.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fluxer", "bot.yaml")
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "fluxer-bot",
		Short:         "A Fluxer gateway bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printBanner() {
	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
}
