package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type MysqlConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	DBName   string
}

// DSN 统一用 UTC 读写时间
func (c MysqlConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", c.Host, c.Port)
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMysql 返回配置好连接池的 gorm 实例
func OpenMysql(c MysqlConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(gormmysql.Open(c.DSN()), &gorm.Config{
		PrepareStmt: true, // 开启预编译提升性能
		NowFunc: func() time.Time {
			return time.Now().UTC() // 写入用 UTC
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB failed: %w", err)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping mysql failed: %w", err)
	}
	slog.Info("mysql connected", "addr", c.Host+":"+c.Port, "db", c.DBName)
	return gdb, nil
}
