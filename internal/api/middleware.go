package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/models"
	"github.com/promptsworkmagic/ollama-compass/utils"
)

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// requestLogger 把访问日志写入应用日志
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// authEnabled 配置了密码才启用鉴权
func (s *Server) authEnabled() bool {
	return s.config != nil && strings.TrimSpace(s.config.Auth.PasswordHash) != ""
}

// authMiddleware JWT认证中间件
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authEnabled() {
			c.Next()
			return
		}

		var token string
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(401, "Token格式错误"))
				return
			}
			token = parts[1]
		} else {
			// 浏览器 WebSocket 无法带 Header，允许 query 传 token
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(401, "未授权"))
			return
		}

		claims, err := utils.VerifyJWT([]byte(s.config.Auth.JWTSecret), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(401, "Token无效"))
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("user", sub)
		}
		c.Next()
	}
}
