// Package database 负责关系库与 Redis 连接的初始化。
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(cfg config.MySQLConfig) {
	var err error
	DB, err = OpenMySQL(cfg)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	log.Info("MySQL database connected successfully")
}

// OpenMySQL 打开连接并配置连接池。
func OpenMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	idle, open := cfg.MaxIdleConns, cfg.MaxOpenConns
	if idle <= 0 {
		idle = 10
	}
	if open <= 0 {
		open = 100
	}
	sqlDB.SetMaxIdleConns(idle)         // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(open)         // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间
	return db, nil
}

// AutoMigrate 迁移全部表结构。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
