package database

import (
	"fmt"
	"os"
	"time"

	"github.com/wfunc/pinball/internal/logger"
	"go.uber.org/zap"
)

// 同一台机台上多个进程抢迁移锁时的重试节奏
const (
	lockRetryInterval = time.Second
	lockMaxAttempts   = 30
	lockStaleAfter    = 5 * time.Minute
)

// migrationLock 基于锁文件的迁移互斥
// SQLite没有服务端锁，靠同目录下的.lock文件挡住并发迁移
type migrationLock struct {
	path string
	file *os.File
}

// lockMigrations 获取迁移锁
// 残留的陈旧锁文件按修改时间清掉，进程崩溃不能永久卡住迁移
func lockMigrations(dbPath string) (*migrationLock, error) {
	lockPath := dbPath + ".lock"

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return &migrationLock{path: lockPath, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			logger.Warn("清理陈旧迁移锁", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		time.Sleep(lockRetryInterval)
	}

	return nil, fmt.Errorf("等待迁移锁超时: %s", lockPath)
}

// release 释放迁移锁，可安全地对nil调用
func (l *migrationLock) release() {
	if l == nil {
		return
	}
	l.file.Close()
	os.Remove(l.path)
}

// sqliteDBPath 返回SQLite数据库文件路径
// 非SQLite或内存库返回空串，表示不需要文件锁
func sqliteDBPath() string {
	if DB == nil || DB.Dialector.Name() != "sqlite" {
		return ""
	}

	var info struct {
		Seq  int
		Name string
		File string
	}
	if err := DB.Raw("PRAGMA database_list").Scan(&info).Error; err != nil {
		return ""
	}
	return info.File
}
