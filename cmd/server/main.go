package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/chatsync/internal/config"
	"github.com/shehryarbajwa/chatsync/internal/logger"
)

var (
	configFile string
	envFile    string

	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Chat session sync service",
	Long: `chatsync keeps chat-widget sessions durable on local storage and
reconciles them with a remote backend.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background sync",
	RunE:  runServe,
}

var exportCmd = &cobra.Command{
	Use:   "export <bundle.tar.gz>",
	Short: "Write stored sessions to a bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <bundle.tar.gz>",
	Short: "Merge sessions from a bundle into storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run an in-memory session backend for development",
	RunE:  runBackend,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	flags.StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	flags.String("log-level", "", "Log level (debug|info|warn|error) [default: info]")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")
	flags.String("data-dir", "", "Directory for session storage")

	serveCmd.Flags().String("addr", "", "HTTP listen address [default: :8080]")

	bindings := []struct {
		key  string
		cmd  *cobra.Command
		flag string
	}{
		{"log.level", rootCmd, "log-level"},
		{"log.file", rootCmd, "log-file"},
		{"data_dir", rootCmd, "data-dir"},
		{"http.addr", serveCmd, "addr"},
	}
	for _, b := range bindings {
		flag := b.cmd.PersistentFlags().Lookup(b.flag)
		if flag == nil {
			flag = b.cmd.Flags().Lookup(b.flag)
		}
		if err := v.BindPFlag(b.key, flag); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", b.flag, err)
			os.Exit(1)
		}
	}

	exportCmd.Flags().String("tag", "", "Only export sessions with this tag")
	exportCmd.Flags().Bool("favorites", false, "Only export favorite sessions")
	exportCmd.Flags().StringSlice("id", nil, "Only export these session ids")

	backendCmd.Flags().String("addr", ":8081", "Listen address")
	backendCmd.Flags().String("token", "", "Bearer token required from clients")

	rootCmd.AddCommand(serveCmd, exportCmd, importCmd, backendCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Configure(cfg.Log.Level, cfg.Log.File)
	logger.Debug("Configuration loaded", "command", cmd.Name(), "data_dir", cfg.DataDir, "remote", cfg.Remote.Enabled)
	return nil
}
