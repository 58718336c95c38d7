package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/dispatch-engine/internal/client"
	"github.com/example/dispatch-engine/internal/config"
	"github.com/example/dispatch-engine/internal/logging"
)

var (
	cfgPath string
	apiURL  string
)

var rootCmd = &cobra.Command{
	Use:           "dispatchctl",
	Short:         "Dispatcher console for the dispatch engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "dispatch API base URL (overrides api_base_url)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

type session struct {
	cfg    config.Config
	logger zerolog.Logger
	api    *client.Client
	in     io.Reader
	out    io.Writer
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	logger := logging.NewLogger(cfg.LogLevel, "dispatchctl")
	api, err := client.New(cfg.APIBaseURL, logger)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, api: api, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}, nil
}
