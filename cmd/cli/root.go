// Package cli provides the command-line entrypoint for the scanning
// engine: a minimal cobra/viper command tree wiring config, target
// expansion, the scheduler, and the result sink together. Full
// nmap-compatible flag grammar, output-format rendering, and the SQLite
// result store are external collaborators out of scope for the engine
// itself (see the package doc on internal/scanning); this CLI exists to
// exercise the engine end to end, not to reproduce every flag in §6.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/doublegate/prort-ip/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd is the base command when prortip is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "prortip",
	Short: "High-throughput TCP/UDP port scanner",
	Long: `prortip discovers live hosts, probes TCP/UDP ports across IPv4 and
IPv6 networks, fingerprints services and operating systems, and streams
structured results to its configured sinks.`,
	Version: getVersion(),
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $PRTIP_CONFIG, then ./prortip.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig loads config per spec §6: an explicit --config flag, the
// PRTIP_CONFIG env var, or ./prortip.yaml, in that precedence order.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envCfg := os.Getenv("PRTIP_CONFIG"); envCfg != "" {
		viper.SetConfigFile(envCfg)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("prortip")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PRTIP")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}

	logger := logging.NewDefault()
	logging.SetDefault(logger)
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets build-time version info, called from main.main.
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
