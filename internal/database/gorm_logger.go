package database

import (
	"context"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// 诊断查询跑在机台主循环之外，超过该阈值仍要记下来排查
const slowQueryThreshold = 200 * time.Millisecond

// gormLogger 把GORM日志接到zap上
type gormLogger struct {
	log      *zap.Logger
	logLevel gormlogger.LogLevel
}

// newGormLogger 创建GORM日志适配器
func newGormLogger(log *zap.Logger, level string) *gormLogger {
	logLevel := gormlogger.Info
	switch level {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}
	return &gormLogger{log: log, logLevel: logLevel}
}

// LogMode 返回指定级别的副本
func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

// Info 输出信息日志
func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Info {
		l.log.Sugar().Infof(msg, data...)
	}
}

// Warn 输出警告日志
func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Warn {
		l.log.Sugar().Warnf(msg, data...)
	}
}

// Error 输出错误日志
func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.logLevel >= gormlogger.Error {
		l.log.Sugar().Errorf(msg, data...)
	}
}

// Trace 输出SQL追踪日志
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.logLevel >= gormlogger.Error:
		l.log.Error("SQL执行错误",
			zap.Error(err),
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	case elapsed > slowQueryThreshold && l.logLevel >= gormlogger.Warn:
		l.log.Warn("SQL执行缓慢",
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	case l.logLevel >= gormlogger.Info:
		l.log.Debug("SQL执行",
			zap.String("sql", sql),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
		)
	}
}
