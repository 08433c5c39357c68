/*
 * @module service/database/connect
 * @description 数据库连接模块，按驱动打开 PostgreSQL 或 SQLite 连接
 * @architecture 数据访问层 - 连接管理
 * @stateFlow 读取配置 -> 打开连接 -> 设置连接池 -> 创建schema -> 迁移
 * @rules memory 驱动不打开数据库，由调用方使用内存存储
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs service/init.go, service/config/config_manager.go
 */

package database

import (
	"fmt"
	"log/slog"

	"explanation-service/service/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 打开数据库连接并完成迁移，memory 驱动返回 nil
func Open(cfg config.DatabaseConfig, timezone string, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	dsn := cfg.BuildDSN(timezone)

	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverMemory:
		slog.Info("使用内存存储，不连接数据库")
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	gormLogLevel := logger.Warn
	if logLevel == "debug" {
		gormLogLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	if cfg.Driver == config.DriverSQLite {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	slog.Info("数据库连接成功", "driver", cfg.Driver)

	if cfg.Driver == config.DriverPostgres {
		if err := EnsureSchema(db, cfg.Schema); err != nil {
			return nil, err
		}
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
