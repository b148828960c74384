package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
)

// DefaultOllamaPort Ollama 默认监听端口
const DefaultOllamaPort = 11434

// OllamaClient 查询远端 Ollama 的模型列表
type OllamaClient struct {
	httpClient *http.Client
	port       int
}

// ProbeResult 一次成功探测的结果
type ProbeResult struct {
	Latency time.Duration
	Version string
	Models  []database.ModelInfo
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Model      string `json:"model"`
		ModifiedAt string `json:"modified_at"`
		Details    struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// NewOllamaClient 创建客户端；timeout 作用于单次请求
func NewOllamaClient(port int, timeout time.Duration) *OllamaClient {
	if port <= 0 {
		port = DefaultOllamaPort
	}
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &OllamaClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				MaxIdleConnsPerHost: 1,
				DisableKeepAlives:   true,
			},
		},
		port: port,
	}
}

func (c *OllamaClient) baseURL(ip string) string {
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(c.port))
}

// Probe 请求 /api/tags；网络不可达、非 200 或响应不是 Ollama 格式都返回错误
func (c *OllamaClient) Probe(ctx context.Context, ip string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(ip)+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama %s: unexpected status %d", ip, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama %s: decode tags: %w", ip, err)
	}

	models := make([]database.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = strings.TrimSpace(m.Model)
		}
		if name == "" {
			continue
		}
		modifiedAt := strings.TrimSpace(m.ModifiedAt)
		if modifiedAt == "" {
			modifiedAt = database.UnknownModifiedAt
		}
		models = append(models, database.ModelInfo{
			Name:              name,
			ModifiedAt:        modifiedAt,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		})
	}

	return &ProbeResult{
		Latency: latency,
		Version: c.version(ctx, ip),
		Models:  models,
	}, nil
}

// version 读取 /api/version；失败时返回空串
func (c *OllamaClient) version(ctx context.Context, ip string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(ip)+"/api/version", nil)
	if err != nil {
		return ""
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&v); err != nil {
		return ""
	}
	return v.Version
}
