package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
	"github.com/promptsworkmagic/ollama-compass/internal/scanner"
)

// Refresher 重新扫描单个主机并刷新模型清单
type Refresher interface {
	ScanHost(ctx context.Context, ip string) (*scanner.HostResult, error)
}

type MonitorOptions struct {
	Interval  time.Duration
	Timeout   time.Duration
	Port      int
	Publisher realtime.Publisher
	Metrics   *metrics.Metrics
}

// listPageSize 每次从库里读取的主机数
var listPageSize = 1000

// RunResult 一轮探测的统计
type RunResult struct {
	Checked    int
	Refreshed  int
	MarkedDead int
}

func (o *MonitorOptions) fill() {
	if o.Interval <= 0 {
		o.Interval = 120 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 1 * time.Second
	}
	if o.Port <= 0 {
		o.Port = scanner.DefaultOllamaPort
	}
	if o.Publisher == nil {
		o.Publisher = realtime.Nop{}
	}
}

// StartHostMonitor 后台周期探测已登记主机，ctx 取消时退出；返回的 channel 在退出后关闭
func StartHostMonitor(ctx context.Context, store *database.Store, refresher Refresher, opts MonitorOptions) <-chan struct{} {
	opts.fill()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		// 启动后先跑一轮
		RunOnce(ctx, store, refresher, opts)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				RunOnce(ctx, store, refresher, opts)
			}
		}
	}()
	return done
}

// RunOnce 探测一轮：可达的主机交给 refresher 刷新，不可达的存活主机标记为离线
func RunOnce(ctx context.Context, store *database.Store, refresher Refresher, opts MonitorOptions) RunResult {
	opts.fill()
	var res RunResult
	if store == nil {
		return res
	}

	hosts, err := listAllHosts(store)
	if err != nil {
		logger.Error("主机探测：读取主机列表失败: %v", err)
		return res
	}

	for _, h := range hosts {
		if ctx.Err() != nil {
			return res
		}
		if strings.TrimSpace(h.IPAddress) == "" {
			continue
		}
		res.Checked++

		if probeReachable(ctx, h.IPAddress, opts.Port, opts.Timeout) {
			if refresher == nil {
				continue
			}
			r, err := refresher.ScanHost(ctx, h.IPAddress)
			if err != nil {
				logger.Warn("主机探测：刷新 %s 失败: %v", h.IPAddress, err)
				continue
			}
			if r != nil && r.Alive {
				res.Refreshed++
			}
			continue
		}

		if !h.IsAlive {
			continue
		}
		ok, err := store.MarkHostAsDead(h.ID)
		if err != nil {
			logger.Error("主机探测：标记离线失败: ip=%s err=%v", h.IPAddress, err)
			if opts.Metrics != nil {
				opts.Metrics.StoreErrorsTotal.Inc()
			}
			continue
		}
		if !ok {
			continue
		}
		res.MarkedDead++
		if opts.Metrics != nil {
			opts.Metrics.HostsMarkedDead.Inc()
		}
		logger.Info("主机离线: %s", h.IPAddress)
		opts.Publisher.Broadcast("host_dead", map[string]interface{}{
			"host_id": h.ID,
			"ip":      h.IPAddress,
		})
	}
	return res
}

// listAllHosts 分页读取全部主机
func listAllHosts(store *database.Store) ([]database.Host, error) {
	var all []database.Host
	for {
		page, total, err := store.ListHosts(database.HostFilter{Status: "all", Limit: listPageSize, Offset: len(all)})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

// probeReachable 检查 Ollama 端口能否建立 TCP 连接
func probeReachable(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
