package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Scanner  ScannerConfig  `json:"scanner" yaml:"scanner"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Log      LogConfig      `json:"log" yaml:"log"`

	path string
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ScannerConfig 扫描器配置
type ScannerConfig struct {
	Subnet       string `json:"subnet" yaml:"subnet"`               // 默认扫描网段，如 192.168.1.0/24
	AutoScan     bool   `json:"auto_scan" yaml:"auto_scan"`         // serve 启动后按间隔自动扫描
	ScanInterval int    `json:"scan_interval" yaml:"scan_interval"` // 秒
	Timeout      int    `json:"timeout" yaml:"timeout"`             // 单个主机探测超时，毫秒
	Concurrency  int    `json:"concurrency" yaml:"concurrency"`     // 并发数
	RateLimit    int    `json:"rate_limit" yaml:"rate_limit"`       // 每秒最多探测主机数，0 表示不限
	OllamaPort   int    `json:"ollama_port" yaml:"ollama_port"`
	MaxHosts     int    `json:"max_hosts" yaml:"max_hosts"` // 单次扫描最多展开的地址数
}

// MonitorConfig 存活探测配置
type MonitorConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Interval int  `json:"interval" yaml:"interval"` // 秒
	Timeout  int  `json:"timeout" yaml:"timeout"`   // 毫秒
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`
}

// AuthConfig 认证配置；PasswordHash 为空时 API 不鉴权
type AuthConfig struct {
	PasswordHash string `json:"password_hash" yaml:"password_hash"` // bcrypt hash
	JWTSecret    string `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL     int    `json:"token_ttl" yaml:"token_ttl"` // 秒
}

// LogConfig 日志配置
type LogConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
	MaxSize int64  `json:"max_size" yaml:"max_size"` // 字节，超过后轮转
}

// legacyJWTSecret 早期版本写入配置文件的默认密钥，已公开，不允许继续使用
const legacyJWTSecret = "ollama-compass-change-me"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: defaultDBPath(),
		},
		Scanner: ScannerConfig{
			Subnet:       "192.168.1.0/24",
			AutoScan:     false,
			ScanInterval: 600,
			Timeout:      1500,
			Concurrency:  16,
			RateLimit:    50,
			OllamaPort:   11434,
			MaxHosts:     4096,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 120,
			Timeout:  1000,
		},
		Server: ServerConfig{
			Port: 8686,
			Host: "127.0.0.1",
		},
		Auth: AuthConfig{
			TokenTTL: 86400,
		},
		Log: LogConfig{
			Dir:     defaultLogDir(),
			Level:   "info",
			Console: true,
			MaxSize: 10 << 20,
		},
	}
}

func dataDir() string {
	if runtime.GOOS == "linux" && os.Geteuid() == 0 {
		return "/var/lib/ollama-compass"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return filepath.Join(home, ".ollama-compass")
	}
	return filepath.Join(os.TempDir(), "ollama-compass")
}

func defaultDBPath() string {
	return filepath.Join(dataDir(), "compass.db")
}

func defaultLogDir() string {
	return filepath.Join(dataDir(), "logs")
}

func defaultConfigPath() string {
	if runtime.GOOS == "linux" && os.Geteuid() == 0 {
		return "/etc/ollama-compass/config.json"
	}
	return filepath.Join(dataDir(), "config.json")
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	configPath := os.Getenv("COMPASS_CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	return configPath
}

// LoadConfig 加载配置；path 为空时使用 GetConfigPath()。
// 配置文件不存在时写出一份默认配置。
func LoadConfig(path string) (*Config, error) {
	// .env 不存在不算错误，格式错误要报出来
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if strings.TrimSpace(path) == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// 启用了密码但没有签名密钥：生成随机密钥并写回配置文件
	if cfg.Auth.PasswordHash != "" && strings.TrimSpace(cfg.Auth.JWTSecret) == "" &&
		strings.TrimSpace(os.Getenv("COMPASS_JWT_SECRET")) == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = secret
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("persist jwt_secret: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// generateSecret 生成 32 字节随机密钥（hex）
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode 在默认值之上覆盖文件中的字段
func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("COMPASS_DB_PATH")); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPASS_OLLAMA_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scanner.OllamaPort = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("COMPASS_SUBNET")); v != "" {
		c.Scanner.Subnet = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPASS_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("COMPASS_JWT_SECRET")); v != "" {
		c.Auth.JWTSecret = v
	}
}

// fillDefaults 只在零值时补齐，兼容旧版本配置
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Scanner.Timeout <= 0 {
		c.Scanner.Timeout = def.Scanner.Timeout
	}
	if c.Scanner.Concurrency <= 0 {
		c.Scanner.Concurrency = def.Scanner.Concurrency
	}
	if c.Scanner.OllamaPort == 0 {
		c.Scanner.OllamaPort = def.Scanner.OllamaPort
	}
	if c.Scanner.MaxHosts <= 0 {
		c.Scanner.MaxHosts = def.Scanner.MaxHosts
	}
	if c.Scanner.ScanInterval <= 0 {
		c.Scanner.ScanInterval = def.Scanner.ScanInterval
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = def.Monitor.Interval
	}
	if c.Monitor.Timeout <= 0 {
		c.Monitor.Timeout = def.Monitor.Timeout
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = def.Auth.TokenTTL
	}
}

// Path 返回配置文件路径
func (c *Config) Path() string {
	if c.path == "" {
		return GetConfigPath()
	}
	return c.path
}

// Save 保存配置
func (c *Config) Save() error {
	configPath := c.Path()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(configPath) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scanner.OllamaPort <= 0 || c.Scanner.OllamaPort > 65535 {
		return fmt.Errorf("invalid ollama port: %d", c.Scanner.OllamaPort)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database path required")
	}
	if c.Auth.PasswordHash != "" {
		secret := strings.TrimSpace(c.Auth.JWTSecret)
		if secret == "" {
			return fmt.Errorf("jwt_secret required when password_hash is set")
		}
		if secret == legacyJWTSecret {
			return fmt.Errorf("jwt_secret must not be the published default")
		}
	}
	return nil
}
