package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/promptsworkmagic/ollama-compass/internal/database"
	"github.com/promptsworkmagic/ollama-compass/internal/logger"
	"github.com/promptsworkmagic/ollama-compass/internal/metrics"
	"github.com/promptsworkmagic/ollama-compass/internal/realtime"
)

var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrScanNotRunning = errors.New("no scan is running")
)

// 扫描状态
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusCompleted = "completed"
)

// Scanner Ollama 主机扫描器接口
type Scanner interface {
	StartScan(subnet string) (string, error)
	StopScan() error
	Wait()
	Scan(ctx context.Context, subnet string) (*ScanStatus, error)
	ScanHost(ctx context.Context, ip string) (*HostResult, error)
	GetScanStatus() *ScanStatus
}

// ScanStatus 扫描状态
type ScanStatus struct {
	ID           string     `json:"id,omitempty"`
	Subnet       string     `json:"subnet,omitempty"`
	Status       string     `json:"status"` // idle, running, stopped, completed
	Progress     int        `json:"progress"`
	Total        int        `json:"total"`
	ScannedCount int        `json:"scanned_count"`
	FoundCount   int        `json:"found_count"`
	DeadCount    int        `json:"dead_count"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// HostResult 单个地址的扫描结果
type HostResult struct {
	IP          string        `json:"ip"`
	HostID      int64         `json:"host_id,omitempty"` // 0 表示未登记
	Alive       bool          `json:"alive"`
	Performance string        `json:"performance,omitempty"`
	Latency     time.Duration `json:"latency_ns,omitempty"`
	Version     string        `json:"version,omitempty"`
	ModelCount  int           `json:"model_count"`
}

// Options 扫描器参数
type Options struct {
	OllamaPort  int
	Timeout     time.Duration
	Concurrency int
	RateLimit   int // 每秒探测数，0 不限
	MaxHosts    int
	Publisher   realtime.Publisher
	Metrics     *metrics.Metrics
}

const hostCacheSize = 4096

// DefaultMaxHosts 单次扫描默认最多展开的地址数
const DefaultMaxHosts = 4096

// hostScanner 扫描器实现
type hostScanner struct {
	store   *database.Store
	client  *OllamaClient
	pub     realtime.Publisher
	metrics *metrics.Metrics
	limiter *rate.Limiter
	hostIDs *lru.Cache[string, int64]

	concurrency int
	maxHosts    int

	mu         sync.RWMutex
	scanning   bool
	cancel     context.CancelFunc
	done       chan struct{}
	scanStatus *ScanStatus
}

// NewScanner 创建扫描器
func NewScanner(store *database.Store, opts Options) Scanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.MaxHosts <= 0 {
		opts.MaxHosts = DefaultMaxHosts
	}
	if opts.Publisher == nil {
		opts.Publisher = realtime.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	cache, _ := lru.New[string, int64](hostCacheSize)

	s := &hostScanner{
		store:       store,
		client:      NewOllamaClient(opts.OllamaPort, opts.Timeout),
		pub:         opts.Publisher,
		metrics:     opts.Metrics,
		hostIDs:     cache,
		concurrency: opts.Concurrency,
		maxHosts:    opts.MaxHosts,
		scanStatus:  &ScanStatus{Status: StatusIdle},
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}
	return s
}

// StartScan 在后台扫描网段，返回扫描 ID
func (s *hostScanner) StartScan(subnet string) (string, error) {
	id, _, err := s.start(context.Background(), subnet)
	return id, err
}

// Scan 同步扫描网段，ctx 取消时停止
func (s *hostScanner) Scan(ctx context.Context, subnet string) (*ScanStatus, error) {
	_, done, err := s.start(ctx, subnet)
	if err != nil {
		return nil, err
	}
	<-done
	return s.GetScanStatus(), nil
}

func (s *hostScanner) start(parent context.Context, subnet string) (string, <-chan struct{}, error) {
	ips, err := ExpandSubnet(subnet, s.maxHosts)
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return "", nil, ErrScanInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	done := make(chan struct{})
	s.scanning = true
	s.cancel = cancel
	s.done = done
	s.scanStatus = &ScanStatus{
		ID:        id,
		Subnet:    subnet,
		Status:    StatusRunning,
		Total:     len(ips),
		StartTime: time.Now(),
	}
	s.mu.Unlock()

	s.metrics.ScansTotal.Inc()
	s.metrics.ScanRunning.Set(1)
	logger.Info("开始扫描 %s (%d 个地址), id=%s", subnet, len(ips), id)
	s.pub.Broadcast("scan_started", map[string]interface{}{
		"id":     id,
		"subnet": subnet,
		"total":  len(ips),
	})

	go func() {
		defer close(done)
		defer cancel()
		s.performScan(ctx, ips)
	}()
	return id, done, nil
}

// performScan 执行扫描
func (s *hostScanner) performScan(ctx context.Context, ips []string) {
	defer func() {
		now := time.Now()
		s.mu.Lock()
		s.scanning = false
		s.cancel = nil
		st := s.scanStatus
		st.EndTime = &now
		if ctx.Err() != nil {
			st.Status = StatusStopped
		} else {
			st.Status = StatusCompleted
			st.Progress = 100
		}
		snapshot := *st
		s.mu.Unlock()

		s.metrics.ScanRunning.Set(0)
		logger.Info("扫描结束 %s: status=%s scanned=%d found=%d dead=%d",
			snapshot.Subnet, snapshot.Status, snapshot.ScannedCount, snapshot.FoundCount, snapshot.DeadCount)
		s.pub.Broadcast("scan_done", snapshot)
	}()

	jobs := make(chan string)
	var wg sync.WaitGroup
	lastProgress := time.Now()

	workers := s.concurrency
	if workers > len(ips) {
		workers = len(ips)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ip := range jobs {
				res, err := s.ScanHost(ctx, ip)
				if err != nil && ctx.Err() == nil {
					logger.Warn("扫描 %s 失败: %v", ip, err)
				}

				s.mu.Lock()
				st := s.scanStatus
				st.ScannedCount++
				if res != nil && res.Alive {
					st.FoundCount++
				} else if res != nil && res.HostID != 0 {
					st.DeadCount++
				}
				if st.Total > 0 {
					st.Progress = st.ScannedCount * 100 / st.Total
				}
				emit := time.Since(lastProgress) >= 2*time.Second
				if emit {
					lastProgress = time.Now()
				}
				snapshot := *st
				s.mu.Unlock()

				if emit {
					s.pub.Broadcast("scan_progress", snapshot)
				}
			}
		}()
	}

feed:
	for _, ip := range ips {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- ip:
		}
	}
	close(jobs)
	wg.Wait()
}

// StopScan 停止当前扫描
func (s *hostScanner) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning || s.cancel == nil {
		return ErrScanNotRunning
	}
	s.cancel()
	logger.Info("停止扫描 %s", s.scanStatus.ID)
	return nil
}

// Wait 阻塞到当前扫描的所有 worker 退出；没有扫描时立即返回
func (s *hostScanner) Wait() {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// GetScanStatus 返回扫描状态快照
func (s *hostScanner) GetScanStatus() *ScanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := *s.scanStatus
	return &st
}

// ScanHost 探测单个地址并刷新清单：可达则登记为存活并整表替换模型，
// 不可达且已登记则标记为离线
func (s *hostScanner) ScanHost(ctx context.Context, ip string) (*HostResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	probe, err := s.client.Probe(ctx, ip)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.IncProbe("unreachable")
		logger.Debug("探测 %s 失败: %v", ip, err)
		return s.markDead(ip)
	}
	s.metrics.IncProbe("ok")
	s.metrics.ProbeDuration.Observe(time.Since(start).Seconds())

	perf := ClassifyPerformance(probe.Latency)
	var hostID int64
	err = s.store.WithTx(func(tx *database.Tx) error {
		id, err := tx.AddOrUpdateHostWithStatus(ip, perf, true)
		if err != nil {
			return err
		}
		hostID = id
		return tx.ReplaceModels(id, probe.Models)
	})
	if err != nil {
		s.metrics.StoreErrorsTotal.Inc()
		return nil, err
	}

	s.hostIDs.Add(ip, hostID)
	s.metrics.HostsUpsertedTotal.Inc()
	s.metrics.ModelsStoredTotal.Add(float64(len(probe.Models)))

	res := &HostResult{
		IP:          ip,
		HostID:      hostID,
		Alive:       true,
		Performance: perf,
		Latency:     probe.Latency,
		Version:     probe.Version,
		ModelCount:  len(probe.Models),
	}
	s.pub.Broadcast("host_upsert", res)
	s.pub.Broadcast("models_replaced", map[string]interface{}{
		"host_id": hostID,
		"ip":      ip,
		"count":   len(probe.Models),
	})
	return res, nil
}

func (s *hostScanner) markDead(ip string) (*HostResult, error) {
	res := &HostResult{IP: ip}

	id, ok := s.hostIDs.Get(ip)
	if !ok {
		host, err := s.store.GetHostByIP(ip)
		if err != nil {
			s.metrics.StoreErrorsTotal.Inc()
			return nil, err
		}
		if host == nil {
			return res, nil
		}
		id = host.ID
		s.hostIDs.Add(ip, id)
	}

	marked, err := s.store.MarkHostAsDead(id)
	if err != nil {
		s.metrics.StoreErrorsTotal.Inc()
		return nil, err
	}
	if !marked {
		return res, nil
	}
	res.HostID = id
	s.metrics.HostsMarkedDead.Inc()
	s.pub.Broadcast("host_dead", res)
	return res, nil
}
