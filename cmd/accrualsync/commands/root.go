package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"accrualsync/internal/config"
	"accrualsync/internal/pipeline"
	"accrualsync/internal/store"
)

var (
	configPath string
	dataDir    string
	verbose    bool

	cfg     *config.AppConfig
	cfgInfo config.LoadConfigInfo
	logger  *zap.Logger
	runs    *store.Store
	runner  *pipeline.Runner

	// exitCode 由运行结果决定，Execute 返回给 main
	exitCode int
)

// Execute 执行命令行，返回进程退出码
func Execute() (int, error) {
	root := &cobra.Command{
		Use:           "accrualsync",
		Short:         "Reconcile monthly paysheets into the profit-sharing accrual workbook",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, cfgInfo, err = config.LoadConfigWithInfo(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dataDir != "" {
				cfg.Data.DataDir = dataDir
			}
			if logger, err = buildLogger(cfg.Log, verbose); err != nil {
				return err
			}
			if cmd.Name() == "init" {
				return nil
			}

			profile, err := cfg.Profile()
			if err != nil {
				return fmt.Errorf("invalid config %s: %w", cfgInfo.Path, err)
			}
			if _, err := config.EnsureDataDir(cfg); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			if runs, err = store.New(config.DatabasePath(cfg)); err != nil {
				return err
			}
			runner = pipeline.NewRunner(profile, runs, logger)
			runner.ReportsDir = config.GetDataPath(cfg, "reports", "")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if runs != nil {
				_ = runs.Close()
			}
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config.toml next to the executable)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(), planCmd(), applyCmd(), runCmd(), runsCmd(), serveCmd())
	if err := root.Execute(); err != nil {
		return 1, err
	}
	return exitCode, nil
}

// buildLogger 按配置构建 zap logger
func buildLogger(lc config.LogConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(lc.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}
