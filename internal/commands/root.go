package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptsworkmagic/ollama-compass/config"
	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
	"github.com/promptsworkmagic/ollama-compass/internal/version"
)

// skipConfig 标记不需要加载配置的子命令
const skipConfig = "skip-config"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ollama-compass",
	Short: "Discover Ollama hosts on the local network and track their models",
	Long: `ollama-compass scans subnets for Ollama endpoints, records every host
it finds together with the models installed on it, and keeps the
inventory fresh by periodically re-probing known hosts.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

// Execute 执行根命令
func Execute() error {
	rootCmd.Version = version.String()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $COMPASS_CONFIG_PATH or the per-user data dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	path := cfgFile
	if path == "" {
		path = config.GetConfigPath()
	}
	c, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c

	if err := logger.InitLogger(logger.Options{
		Dir:     cfg.Log.Dir,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("配置文件: %s", cfg.Path())
	return nil
}

// scannerOptions 从配置生成扫描器参数
func scannerOptions(c *config.Config, pub realtime.Publisher, m *metrics.Metrics) scanner.Options {
	return scanner.Options{
		OllamaPort:  c.Scanner.OllamaPort,
		Timeout:     time.Duration(c.Scanner.Timeout) * time.Millisecond,
		Concurrency: c.Scanner.Concurrency,
		RateLimit:   c.Scanner.RateLimit,
		MaxHosts:    c.Scanner.MaxHosts,
		Publisher:   pub,
		Metrics:     m,
	}
}
