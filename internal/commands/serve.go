package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/promptsworkmagic/ollama-compass/internal/api"
	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
	"github.com/promptsworkmagic/ollama-compass/internal/probe"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, host monitor and optional auto-scan",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	logger.Info("启动 ollama-compass...")

	store, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("关闭数据库失败: %v", err)
		}
	}()

	hub := realtime.NewHub()
	defer hub.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	sc := scanner.NewScanner(store, scannerOptions(cfg, hub, m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 后台任务全部退出后才能关闭数据库
	var background []<-chan struct{}
	if cfg.Monitor.Enabled {
		monitorDone := probe.StartHostMonitor(ctx, store, sc, probe.MonitorOptions{
			Interval:  time.Duration(cfg.Monitor.Interval) * time.Second,
			Timeout:   time.Duration(cfg.Monitor.Timeout) * time.Millisecond,
			Port:      cfg.Scanner.OllamaPort,
			Publisher: hub,
			Metrics:   m,
		})
		background = append(background, monitorDone)
		logger.Info("主机探测已启动，间隔 %ds", cfg.Monitor.Interval)
	}
	if cfg.Scanner.AutoScan {
		autoDone := make(chan struct{})
		go func() {
			defer close(autoDone)
			autoScan(ctx, sc, cfg.Scanner.Subnet, time.Duration(cfg.Scanner.ScanInterval)*time.Second)
		}()
		background = append(background, autoDone)
	}
	go rotateLogs(ctx, cfg.Log.MaxSize)

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.NewServer(cfg, store, sc, hub, prometheus.DefaultGatherer)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP服务器监听 %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("正在关闭服务...")
	case err := <-errChan:
		stop()
		drain(sc, background)
		return fmt.Errorf("HTTP服务器启动失败: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)

	drain(sc, background)
	if shutdownErr != nil {
		return fmt.Errorf("HTTP服务器关闭失败: %w", shutdownErr)
	}

	logger.Info("服务已关闭")
	return nil
}

// drain 等后台任务退出，再停止扫描并等待 worker 结束
func drain(sc scanner.Scanner, background []<-chan struct{}) {
	for _, done := range background {
		<-done
	}
	if err := sc.StopScan(); err != nil && !errors.Is(err, scanner.ErrScanNotRunning) {
		logger.Warn("停止扫描失败: %v", err)
	}
	sc.Wait()
}

// autoScan 按间隔扫描配置的网段；上一轮未结束时跳过
func autoScan(ctx context.Context, sc scanner.Scanner, subnet string, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sc.StartScan(subnet); err != nil {
			if errors.Is(err, scanner.ErrScanInProgress) {
				logger.Debug("自动扫描跳过：上一轮仍在进行")
			} else {
				logger.Error("自动扫描 %s 失败: %v", subnet, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func rotateLogs(ctx context.Context, maxSize int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := logger.RotateLog(maxSize); err != nil {
				logger.Error("日志轮转失败: %v", err)
			}
		}
	}
}
