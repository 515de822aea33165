package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qhp-bridge/bridge/config"
	"github.com/qhp-bridge/bridge/internal/logger"
	corebridge "github.com/qhp-bridge/bridge/pkg/bridge"
)

var (
	configPath string
	configDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error

		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load(config.LoaderOptions{ConfigDir: configDir})
		}
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log := buildLogger(cfg)

		b, err := corebridge.New(cfg, log)
		if err != nil {
			return fmt.Errorf("construct bridge: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("bridge starting",
			logger.Int("listenPort", cfg.ListenPort),
			logger.String("internalPeer", cfg.InternalPeerEndpoint),
			logger.String("externalPeer", cfg.ExternalPeerEndpoint))

		return b.Run(ctx)
	},
}

func buildLogger(cfg *config.Config) logger.Logger {
	level := logger.InfoLevel
	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = logger.DebugLevel
		case "warn":
			level = logger.WarnLevel
		case "error":
			level = logger.ErrorLevel
		}
	}
	l := logger.NewLogger(os.Stdout, level)
	logger.SetDefaultLogger(l)
	return l
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a single config file")
	runCmd.Flags().StringVar(&configDir, "config-dir", "config", "directory searched for layered config files")
	rootCmd.AddCommand(runCmd)
}
