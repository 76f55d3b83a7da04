package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志实例
var Log *zap.Logger

// Init 初始化日志（dev 环境输出彩色易读格式，生产输出 JSON）
func Init(env string) error {
	var (
		l   *zap.Logger
		err error
	)

	if env == "prod" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err = cfg.Build()
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l, err = cfg.Build()
	}
	if err != nil {
		return err
	}

	Log = l
	return nil
}

// Sync 刷新缓冲日志，进程退出前调用
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
