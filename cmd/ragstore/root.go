// Package ragstore is the CLI entrypoint: configuration loading plus the
// serve command.
package ragstore

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/ragstore/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "ragstore",
	Short: "ragstore - document retrieval service",
	Long: `ragstore ingests documents into Postgres/pgvector and an S3-compatible
blob store, and serves hybrid vector + lexical retrieval with optional
LLM reranking.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		setupLogging(cfg)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))
	if !cfg.Server.LogJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ragstore version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./ragstore.toml)")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
}
