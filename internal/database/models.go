package database

import "time"

// UnknownModifiedAt 扫描端拿不到修改时间时写入的占位值
const UnknownModifiedAt = "unknown"

// Host 主机模型
type Host struct {
	ID          int64     `json:"id"`
	IPAddress   string    `json:"ip_address"`
	Performance string    `json:"performance"`
	IsAlive     bool      `json:"is_alive"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Model 主机上已安装的模型
type Model struct {
	ID                int64     `json:"id"`
	HostID            int64     `json:"host_id"`
	Name              string    `json:"name"`
	ModifiedAt        string    `json:"modified_at"`
	ParameterSize     string    `json:"parameter_size"`
	QuantizationLevel string    `json:"quantization_level"`
	ScannedAt         time.Time `json:"scanned_at"`
}

// ModelInfo 一次扫描得到的模型记录
type ModelInfo struct {
	Name              string `json:"name"`
	ModifiedAt        string `json:"modified_at"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// HostFilter 主机列表过滤条件
type HostFilter struct {
	Status string // alive, dead, all
	Limit  int
	Offset int
}
