// Command bamboo runs the bamboo server and its template tooling.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eringen/bamboo"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	configPath string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bamboo",
	Short: "Content backend and static site generator for conference websites",
	Long: `bamboo manages conference and community sites, keeps each site's
template repository in sync, renders sites live, and packs them into
static archives.

Configuration comes from an optional YAML file (--config) overridden by
environment variables such as ADMIN_PASSWORD, SSG_GH_TOKEN and
SSG_SYNC_INTERVAL.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bamboo version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bamboo %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", bamboo.EnvOr("BAMBOO_CONFIG", "bamboo.yaml"), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", bamboo.EnvOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the --log-* flags.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q", logFormat)
}

// openApp loads the config and opens the store and template pipeline.
func openApp() (*bamboo.App, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	cfg, err := bamboo.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return bamboo.New(cfg, bamboo.WithLogger(logger)), nil
}
