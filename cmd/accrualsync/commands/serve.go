package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"accrualsync/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		port    int
		devMode bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			// config.toml 中显式配置的端口优先
			if port > 0 && !cfgInfo.PortSpecified {
				cfg.Server.Port = port
			}
			if devMode {
				cfg.Server.DevMode = true
			}

			ctx, cancel := signalContext()
			defer cancel()

			srv := server.NewServer(cfg, runner, runs, logger)
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			logger.Info("listening", zap.String("addr", addr), zap.String("data_dir", cfg.Data.DataDir))
			return srv.Run(ctx, addr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (config.toml takes precedence when it sets one)")
	cmd.Flags().BoolVar(&devMode, "dev", false, "development mode")
	return cmd
}
