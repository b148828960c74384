package scanner

import "time"

// 性能分级
const (
	PerfHigh = "High-Performance"
	PerfMid  = "Mid-Range"
	PerfLow  = "Low-End"
)

var (
	highLatency = 100 * time.Millisecond
	midLatency  = 500 * time.Millisecond
)

// ClassifyPerformance 按 /api/tags 响应延迟给主机分级
func ClassifyPerformance(latency time.Duration) string {
	switch {
	case latency < highLatency:
		return PerfHigh
	case latency < midLatency:
		return PerfMid
	default:
		return PerfLow
	}
}
