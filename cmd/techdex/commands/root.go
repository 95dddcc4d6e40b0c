// Package commands implements the CLI commands for techdex.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/techdex/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "techdex",
	Short: "Catalog the games built with each technology listed on SteamDB",
	Long: `Techdex discovers the technology catalog on SteamDB (engines, SDKs,
containers, emulators, launchers, anti-cheat) and lists the games that use
each technology, filtered by review count.

Games are read from the page's data endpoint when one is advertised, and
from the rendered table otherwise. A real Chrome instance is driven so that
anti-bot challenges can be passed.

Examples:
  # Top 5 engines, games with at least 500 reviews
  techdex scrape

  # List technologies only, without fetching games
  techdex scrape --test --categories Engine,SDK

  # Write YAML, keep debugging artifacts
  techdex scrape -o engines.yaml --debug-dir ./debug`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.techdex.yaml or ./.techdex.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".techdex")
		viper.SetConfigType("yaml")
	}

	// Defaults and TECHDEX_* environment variables
	config.SetDefaults(viper.GetViper())

	// Read config file (ignore error if not found)
	if err := viper.ReadInConfig(); err == nil {
		logInfo("using config file %s", viper.ConfigFileUsed())
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
