// Command plexo runs the Anthropic-to-OpenAI protocol translation proxy.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plexo-dev/plexo/internal/config"
	"github.com/plexo-dev/plexo/internal/obs"
	"github.com/plexo-dev/plexo/internal/server"
)

var version = "dev"

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	var (
		configPath string
		port       int
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "plexo",
		Short:        "Anthropic-to-OpenAI protocol translation proxy",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env := os.Getenv("PLEXO_CONFIG"); env != "" && !cmd.Flags().Changed("config") {
				configPath = env
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			obs.Setup(cfg.Log.Level, cfg.Log.File, cfg.Log.MaxSizeMB)

			srv := server.New(cfg)

			watcher, err := config.NewWatcher(cfg.Path, srv.Reload, logrus.WithField("component", "config"))
			if err != nil {
				logrus.WithError(err).Warn("config watcher unavailable, hot reload disabled")
			} else {
				defer watcher.Stop()
			}

			return srv.Run()
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
