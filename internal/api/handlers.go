package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
	"github.com/promptsworkmagic/ollama-compass/models"
	"github.com/promptsworkmagic/ollama-compass/utils"
)

const adminUser = "admin"

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse(503, "数据库不可用"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"status": "ok"}))
}

// handleLogin 处理登录请求
func (s *Server) handleLogin(c *gin.Context) {
	if !s.authEnabled() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, "未启用认证"))
		return
	}
	if !s.loginLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse(429, "请求过于频繁"))
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, "参数错误: "+err.Error()))
		return
	}
	if req.Username == "" {
		req.Username = adminUser
	}

	if req.Username != adminUser || !utils.VerifyPassword(req.Password, s.config.Auth.PasswordHash) {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse(401, "用户名或密码错误"))
		return
	}

	ttl := time.Duration(s.config.Auth.TokenTTL) * time.Second
	token, err := utils.GenerateJWT([]byte(s.config.Auth.JWTSecret), req.Username, ttl)
	if err != nil {
		logger.Error("生成Token失败: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, "生成Token失败"))
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"token":      token,
		"expires_in": s.config.Auth.TokenTTL,
	}))
}

// handleHostsList 主机列表，支持 status=alive|dead|all 与分页
func (s *Server) handleHostsList(c *gin.Context) {
	status := strings.TrimSpace(c.Query("status"))
	switch status {
	case "", "all", "alive", "dead":
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, "status 只能是 alive、dead 或 all"))
		return
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 50
	}

	hosts, total, err := s.store.ListHosts(database.HostFilter{
		Status: status,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return
	}

	c.JSON(http.StatusOK, models.PageResponse(hosts, total, page, pageSize))
}

// lookupHost 按路径参数中的 IP 查主机，失败时已写响应
func (s *Server) lookupHost(c *gin.Context) (*database.Host, bool) {
	ip := strings.TrimSpace(c.Param("ip"))
	if ip == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, "主机IP不能为空"))
		return nil, false
	}
	host, err := s.store.GetHostByIP(ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return nil, false
	}
	if host == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse(404, "主机不存在"))
		return nil, false
	}
	return host, true
}

// handleHostDetail 主机详情，包含当前模型清单
func (s *Server) handleHostDetail(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}
	list, err := s.store.GetModelsForHost(host.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"id":          host.ID,
		"ip_address":  host.IPAddress,
		"performance": host.Performance,
		"is_alive":    host.IsAlive,
		"first_seen":  host.FirstSeen,
		"last_seen":   host.LastSeen,
		"models":      list,
	}))
}

// handleHostModels 主机模型清单
func (s *Server) handleHostModels(c *gin.Context) {
	host, ok := s.lookupHost(c)
	if !ok {
		return
	}
	list, err := s.store.GetModelsForHost(host.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"host_id": host.ID,
		"models":  list,
		"total":   len(list),
	}))
}

// handleHostRescan 立即重新扫描单个主机；地址不必已登记
func (s *Server) handleHostRescan(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, "无效的IPv4地址"))
		return
	}

	res, err := s.scanner.ScanHost(c.Request.Context(), ip)
	if err != nil {
		logger.Error("重新扫描 %s 失败: %v", ip, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(res))
}

// handleScanStart 处理启动扫描请求
func (s *Server) handleScanStart(c *gin.Context) {
	var req struct {
		Subnet string `json:"subnet"`
	}
	// 允许空请求体，使用配置中的网段
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Subnet) == "" && s.config != nil {
		req.Subnet = s.config.Scanner.Subnet
	}

	id, err := s.scanner.StartScan(req.Subnet)
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			c.JSON(http.StatusConflict, models.ErrorWithData(409, err.Error(), s.scanner.GetScanStatus()))
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse(400, err.Error()))
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"scan_id": id,
		"subnet":  req.Subnet,
		"status":  scanner.StatusRunning,
	}))
}

// handleScanStop 处理停止扫描请求
func (s *Server) handleScanStop(c *gin.Context) {
	if err := s.scanner.StopScan(); err != nil {
		if errors.Is(err, scanner.ErrScanNotRunning) {
			c.JSON(http.StatusConflict, models.ErrorResponse(409, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(500, err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(nil))
}

// handleScanStatus 处理获取扫描状态请求
func (s *Server) handleScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(s.scanner.GetScanStatus()))
}

func queryInt(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
