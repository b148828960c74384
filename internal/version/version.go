package version

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	Commit    = "unknown"
)

// String 版本信息
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}
