// Command deckhand inspects and drives a running deckhandd.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drewfead/deckhand/internal/config"
)

// Version is set at build time
var Version = "dev"

var (
	cfg        *config.Config
	configPath string
	daemonAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deckhand",
	Short: "Control surface for the deckhand daemon",
	Long: `deckhand talks to a running deckhandd over its session endpoint.

Examples:
  deckhand status                       # Daemon, pollers, helpers, Discord
  deckhand run media_next               # Dispatch an action
  deckhand run volume_set level=40      # Params as key=value pairs
  deckhand run hotkey --params '{"keys":["ctrl","shift","m"]}'
  deckhand watch                        # Live view of pushed data
  deckhand logs -f                      # Follow the daemon log`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if daemonAddr == "" {
			daemonAddr = dialAddr(cfg.Daemon.Listen)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(false)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runStatus(asJSON)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <type> [key=value...]",
	Short: "Dispatch an action through the daemon",
	Long: `Dispatch one action and print its result.

Params come from --params as a JSON object, from key=value pairs, or both
(pairs win). Values that parse as JSON keep their type, anything else is
sent as a string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("params")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return runAction(args[0], raw, args[1:], timeout)
	},
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List action types",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runActions()
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile [name]",
	Short: "Show profiles, or switch the active one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return runProfiles()
		}
		return runProfileSwitch(args[0])
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the data the daemon is pushing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the daemon log",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")
		level, _ := cmd.Flags().GetString("level")
		return runLogs(follow, lines, level)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the data sources the active profile references",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSources()
	},
}

var discordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Discord IPC client commands",
}

var discordTokenCmd = &cobra.Command{
	Use:   "token [token]",
	Short: "Show, store, or clear the Discord access token",
	Long: `Without arguments, reports whether a token is stored.

The daemon reads the token on its next connect, so a running deckhandd
picks up a new token after the IPC client reconnects.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearToken, _ := cmd.Flags().GetBool("clear")
		switch {
		case clearToken && len(args) > 0:
			return errors.New("--clear takes no token")
		case clearToken:
			return runDiscordTokenClear()
		case len(args) == 1:
			return runDiscordTokenSet(args[0])
		default:
			return runDiscordTokenStatus()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "", "Daemon address (default: daemon.listen from config)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cobra.OnInitialize(func() {
		if noColor, _ := rootCmd.PersistentFlags().GetBool("no-color"); noColor {
			disableColors()
		}
	})

	statusCmd.Flags().Bool("json", false, "Print the raw status document")

	runCmd.Flags().StringP("params", "p", "", "Action params as a JSON object")
	runCmd.Flags().Duration("timeout", defaultActionTimeout, "How long to wait for the result")

	logsCmd.Flags().BoolP("follow", "f", false, "Keep printing as the log grows")
	logsCmd.Flags().IntP("lines", "n", 50, "Number of trailing lines to start from (0 = whole file)")
	logsCmd.Flags().StringP("level", "l", "", "Only show lines at or above this level")

	discordTokenCmd.Flags().Bool("clear", false, "Remove the stored token")

	discordCmd.AddCommand(discordTokenCmd)
	rootCmd.AddCommand(statusCmd, runCmd, actionsCmd, sourcesCmd, profileCmd, watchCmd, logsCmd, discordCmd)
}
