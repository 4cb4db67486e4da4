package cmd

import (
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	debug      bool
	logLevel   string
	configPath string
	serverURL  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sockline",
	Short: "Sockline websocket event client",
	Long: `Sockline connects to a websocket event server over a single shared
channel and dispatches the events it carries.

Settings are read from an optional HCL file (--config) and the
SOCKLINE_WS_URL and SOCKLINE_API_URL environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "HCL config file")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "url", "u", "", "websocket server URL, overrides the config")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetDebug returns the debug flag value
func GetDebug() bool {
	return debug
}
