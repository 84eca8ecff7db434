package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gatotkota/internal/config"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagEnvFile  = "env-file"

	defaultConfigPath = "config.yml"
	defaultLogLevel   = "info"
	defaultEnvFile    = ".env"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	r := &cobra.Command{
		Use:           "gatotkota",
		Short:         "GatotKota report service with staged photo uploads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString(flagLogLevel)
			lvl, err := zerolog.ParseLevel(level)
			if err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			zerolog.SetGlobalLevel(lvl)

			envFile, _ := cmd.Flags().GetString(flagEnvFile)
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", envFile).Msg("env file not loaded")
			}
			return nil
		},
	}

	r.PersistentFlags().String(flagConfig, defaultConfigPath, "path to the YAML config file")
	r.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level. debug|info|warn|error")
	r.PersistentFlags().String(flagEnvFile, defaultEnvFile, "optional dotenv file with storage credentials")

	r.AddCommand(serveCmd(), uploadCmd())
	return r
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
