package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/promptsworkmagic/ollama-compass/config"
	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
)

// Server API服务器
type Server struct {
	config       *config.Config
	store        *database.Store
	scanner      scanner.Scanner
	hub          *realtime.Hub
	gatherer     prometheus.Gatherer
	loginLimiter *rate.Limiter
	router       *gin.Engine
}

// NewServer 创建API服务器；gatherer 为空时使用默认注册表
func NewServer(cfg *config.Config, store *database.Store, sc scanner.Scanner, hub *realtime.Hub, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	server := &Server{
		config:       cfg,
		store:        store,
		scanner:      sc,
		hub:          hub,
		gatherer:     gatherer,
		loginLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	server.initRouter()
	return server
}

// Router 获取路由
func (s *Server) Router() *gin.Engine {
	return s.router
}

// initRouter 初始化路由
func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(requestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	{
		api.POST("/auth/login", s.handleLogin)

		// 主机清单
		api.GET("/hosts", s.authMiddleware(), s.handleHostsList)
		api.GET("/hosts/:ip", s.authMiddleware(), s.handleHostDetail)
		api.GET("/hosts/:ip/models", s.authMiddleware(), s.handleHostModels)
		api.POST("/hosts/:ip/rescan", s.authMiddleware(), s.handleHostRescan)

		// 网段扫描
		api.POST("/scan/start", s.authMiddleware(), s.handleScanStart)
		api.POST("/scan/stop", s.authMiddleware(), s.handleScanStop)
		api.GET("/scan/status", s.authMiddleware(), s.handleScanStatus)
	}

	// WebSocket路由
	s.router.GET("/ws", s.authMiddleware(), s.handleWebSocket)
}
