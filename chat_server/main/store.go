package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"GroupChat/chat_server/config"
	"GroupChat/chat_server/db"
	"GroupChat/chat_server/rdb"
	"GroupChat/chat_server/userfile"
)

// credentialBackend 服务器使用的凭据存储，同时支持注册新用户
type credentialBackend interface {
	Lookup(ctx context.Context, username string) (string, bool, error)
	Register(ctx context.Context, username, password string) error
	Close() error
}

// openStore 按配置打开凭据后端
func openStore(ctx context.Context, cfg config.CredentialsConfig, logger hclog.Logger) (credentialBackend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := userfile.Open(cfg.File, logger.Named("userfile"))
		if err != nil {
			return nil, err
		}
		if cfg.Watch {
			if err := store.Watch(); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil

	case config.BackendMySQL:
		udb, err := db.ConnectDB(ctx, cfg.MySQL.DSN, logger.Named("mysql"))
		if err != nil {
			return nil, err
		}
		if err := udb.EnsureSchema(ctx); err != nil {
			udb.Close()
			return nil, err
		}
		return udb, nil

	case config.BackendRedis:
		r := cfg.Redis
		store, err := rdb.NewUserStore(ctx, r.Address, r.Password, r.DB, r.Key, logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("未知的凭据后端 %q", cfg.Backend)
	}
}
