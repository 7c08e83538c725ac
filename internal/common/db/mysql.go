package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// MySQLConfig holds the connection settings of the record database.
type MySQLConfig struct {
	Addr         string
	User         string
	Password     string `json:",optional"`
	Database     string
	DialTimeout  time.Duration `json:",default=5s"`
	ReadTimeout  time.Duration `json:",default=10s"`
	WriteTimeout time.Duration `json:",default=10s"`
}

// DSN renders the go-sql-driver data source name.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = c.DialTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// NewMySQL opens a go-zero connection for cfg.
func NewMySQL(cfg MySQLConfig) (sqlx.SqlConn, error) {
	if cfg.Addr == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mysql addr and database are required")
	}
	return sqlx.NewMysql(cfg.DSN()), nil
}
