package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/taosdata/driver-go/v3/taosWS"
)

type TaosConfig struct {
	Username string
	Password string
	Protocol string
	Address  string
	DBName   string
	Param    string
}

func (c TaosConfig) URI() string {
	uri := fmt.Sprintf("%s:%s@%s(%s)/%s", c.Username, c.Password, c.Protocol, c.Address, c.DBName)
	if len(c.Param) > 0 {
		uri = fmt.Sprintf("%s?params=%s", uri, c.Param)
	}
	return uri
}

// NewTaos 通过 websocket 连接 TDengine，不依赖 cgo 客户端
func NewTaos(config TaosConfig) (*sql.DB, error) {
	slog.Debug("connect taos", "address", config.Address, "db", config.DBName)
	db, err := sql.Open("taosWS", config.URI())
	if err != nil {
		return nil, fmt.Errorf("failed to connect TDengine: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("ping TDengine failed: %w", err)
	}
	return db, nil
}
