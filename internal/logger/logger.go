package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Options 日志初始化参数
type Options struct {
	Dir     string // 日志目录，为空时只输出到控制台
	Level   string // debug, info, warn, error
	Console bool
}

const logFileName = "compass.log"

var (
	mu          sync.Mutex
	level       = LevelInfo
	infoLogger  *log.Logger
	errorLogger *log.Logger
	warnLogger  *log.Logger
	debugLogger *log.Logger
	logFile     *os.File
	logDir      string
	console     bool
)

// InitLogger 初始化日志系统
func InitLogger(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	level = ParseLevel(opts.Level)
	console = opts.Console
	logDir = strings.TrimSpace(opts.Dir)

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var fileErr error
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fileErr = fmt.Errorf("create log dir: %w", err)
		} else if file, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			fileErr = fmt.Errorf("open log file: %w", err)
		} else {
			logFile = file
		}
	}

	setOutput(writer())
	// 日志目录不可用时只输出到控制台
	if fileErr != nil && warnLogger != nil {
		_ = warnLogger.Output(2, fmt.Sprintf("日志文件不可用，仅输出到控制台: %v", fileErr))
	}
	return nil
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func writer() io.Writer {
	var writers []io.Writer
	if logFile != nil {
		writers = append(writers, logFile)
	}
	if console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return io.MultiWriter(writers...)
}

func setOutput(w io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	infoLogger = log.New(w, "[INFO] ", flags)
	errorLogger = log.New(w, "[ERROR] ", flags)
	warnLogger = log.New(w, "[WARN] ", flags)
	debugLogger = log.New(w, "[DEBUG] ", flags)
}

func output(l *log.Logger, lv Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil || lv < level {
		return
	}
	_ = l.Output(3, fmt.Sprintf(format, v...))
}

// Info 记录信息日志
func Info(format string, v ...interface{}) {
	output(infoLogger, LevelInfo, format, v...)
}

// Error 记录错误日志
func Error(format string, v ...interface{}) {
	output(errorLogger, LevelError, format, v...)
}

// Warn 记录警告日志
func Warn(format string, v ...interface{}) {
	output(warnLogger, LevelWarn, format, v...)
}

// Debug 记录调试日志
func Debug(format string, v ...interface{}) {
	output(debugLogger, LevelDebug, format, v...)
}

// Fatal 记录致命错误并退出
func Fatal(format string, v ...interface{}) {
	output(errorLogger, LevelError, format, v...)
	os.Exit(1)
}

// Close 关闭日志文件
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// RotateLog 日志轮转（按大小）
func RotateLog(maxSize int64) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil || maxSize <= 0 {
		return nil
	}

	stat, err := logFile.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < maxSize {
		return nil
	}

	logFile.Close()
	oldPath := filepath.Join(logDir, logFileName)
	newPath := filepath.Join(logDir, fmt.Sprintf("compass.%s.log", time.Now().Format("20060102-150405")))
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	file, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logFile = nil
		setOutput(writer())
		return err
	}
	logFile = file
	setOutput(writer())
	return nil
}
