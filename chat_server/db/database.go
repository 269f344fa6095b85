package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-hclog"
)

const schema = `CREATE TABLE IF NOT EXISTS users (
	username      VARCHAR(64)  NOT NULL PRIMARY KEY,
	password_hash VARCHAR(255) NOT NULL,
	created_at    DATETIME     NOT NULL
)`

// UserDB MySQL 中的 users 表，作为聊天服务器的凭据存储
type UserDB struct {
	DB     *sql.DB
	logger hclog.Logger
}

// ConnectDB 打开 MySQL 连接并 Ping 一次确认可用。
// dsn 形如 "user:pass@tcp(localhost:3306)/chat"。
func ConnectDB(ctx context.Context, dsn string, logger hclog.Logger) (*UserDB, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("数据库打开失败: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败（%s/%s）: %w", cfg.Addr, cfg.DBName, err)
	}

	logger.Info("数据库连接成功", "addr", cfg.Addr, "db", cfg.DBName, "user", cfg.User)
	return &UserDB{DB: db, logger: logger}, nil
}

// EnsureSchema 在 users 表不存在时创建它
func (udb *UserDB) EnsureSchema(ctx context.Context) error {
	if _, err := udb.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("创建 users 表失败: %w", err)
	}
	return nil
}

// Lookup 查询用户存储的密码（明文或 bcrypt 哈希）
func (udb *UserDB) Lookup(ctx context.Context, name string) (string, bool, error) {
	if udb.DB == nil {
		return "", false, errors.New("数据库连接不可用")
	}
	var stored string
	err := udb.DB.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("查询用户凭证失败: %w", err)
	}
	return stored, true, nil
}

// Register 写入新用户。用户名重复时返回错误。
func (udb *UserDB) Register(ctx context.Context, name, password string) error {
	if udb.DB == nil {
		return errors.New("数据库连接不可用")
	}
	_, err := udb.DB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, NOW())",
		name, password)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == 1062 {
			return fmt.Errorf("用户 %q 已存在", name)
		}
		return fmt.Errorf("执行插入操作失败: %w", err)
	}
	udb.logger.Info("用户注册成功", "user", name)
	return nil
}

// Close 关闭数据库连接
func (udb *UserDB) Close() error {
	if udb.DB == nil {
		return nil
	}
	if err := udb.DB.Close(); err != nil {
		return fmt.Errorf("关闭数据库失败: %w", err)
	}
	udb.logger.Info("数据库连接已关闭")
	return nil
}
