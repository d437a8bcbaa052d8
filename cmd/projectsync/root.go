package main

import (
	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectsync/internal/config"
)

var (
	configPath string
	serverURL  string
	apiURL     string
	appID      string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "projectsync",
	Short:         "Real-time client for generated projects",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath(), "Config file")
	pf.StringVar(&serverURL, "server", "", "Websocket URL (overrides config)")
	pf.StringVar(&apiURL, "api", "", "HTTP API base URL (overrides config)")
	pf.StringVar(&appID, "app", "", "Project (app) ID (overrides config)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(loginCmd, logoutCmd, watchCmd, treeCmd, catCmd, saveCmd, terminalCmd, cacheCmd)
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if appID != "" {
		cfg.AppID = appID
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
