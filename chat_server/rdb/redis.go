package rdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-hclog"
)

// DefaultUsersKey 保存凭据的 Redis 哈希键名（字段为用户名，值为密码）
const DefaultUsersKey = "chat_users"

// UserStore 基于 Redis 哈希的凭据存储
type UserStore struct {
	Client   *redis.Client // Redis 客户端实例
	UsersKey string        // 凭据哈希的键名
	logger   hclog.Logger
}

// NewUserStore 创建 Redis 凭据存储并 Ping 一次确认连接可用。
// 参数:
//   - addr: Redis 服务器地址，格式如 "host:port"
//   - password: Redis 访问密码，若无则传空字符串
//   - db: 使用的 Redis 数据库编号
//   - usersKey: 凭据哈希的键名，为空时使用 DefaultUsersKey
func NewUserStore(ctx context.Context, addr, password string, db int, usersKey string, logger hclog.Logger) (*UserStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if usersKey == "" {
		usersKey = DefaultUsersKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", addr, err)
	}

	logger.Info("Redis 连接成功", "addr", addr, "db", db, "key", usersKey)
	return &UserStore{Client: client, UsersKey: usersKey, logger: logger}, nil
}

// Lookup 用 HGET 查询用户密码，键不存在时返回 found=false
func (s *UserStore) Lookup(ctx context.Context, username string) (string, bool, error) {
	password, err := s.Client.HGet(ctx, s.UsersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("读取用户 %q 凭据失败: %w", username, err)
	}
	return password, true, nil
}

// Register 用 HSETNX 写入新用户，已存在时返回错误
func (s *UserStore) Register(ctx context.Context, username, password string) error {
	created, err := s.Client.HSetNX(ctx, s.UsersKey, username, password).Result()
	if err != nil {
		return fmt.Errorf("写入用户 %q 凭据失败: %w", username, err)
	}
	if !created {
		return fmt.Errorf("用户 %q 已存在", username)
	}
	s.logger.Info("用户注册成功", "user", username)
	return nil
}

// Close 关闭 Redis 连接
func (s *UserStore) Close() error {
	if s.Client == nil {
		return nil
	}
	if err := s.Client.Close(); err != nil {
		return fmt.Errorf("关闭 Redis 连接失败: %w", err)
	}
	s.logger.Info("Redis 连接已关闭")
	return nil
}
