// Package config 负责加载聊天服务器的运行配置。
//
// 加载顺序（后者覆盖前者）：默认值 -> YAML 配置文件 -> CHAT_ 前缀环境变量 -> 命令行参数。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix 环境变量前缀，例如 CHAT_SERVER_ADDRESS -> server.address
const EnvPrefix = "CHAT_"

// 凭据后端类型
const (
	BackendFile  = "file"
	BackendMySQL = "mysql"
	BackendRedis = "redis"
)

// Config 服务器完整配置
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
}

// ServerConfig 监听地址和单连接 I/O 限制
type ServerConfig struct {
	Address      string        `koanf:"address"`
	WriteTimeout time.Duration `koanf:"writetimeout"`
	LineLimit    int           `koanf:"linelimit"`
	SendQueue    int           `koanf:"sendqueue"`
}

// CredentialsConfig 凭据存储后端配置
type CredentialsConfig struct {
	Backend string      `koanf:"backend"`
	File    string      `koanf:"file"`
	Watch   bool        `koanf:"watch"`
	MySQL   MySQLConfig `koanf:"mysql"`
	Redis   RedisConfig `koanf:"redis"`
}

type MySQLConfig struct {
	DSN string `koanf:"dsn"`
}

type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

// MetricsConfig Address 为空时不启动 Prometheus 导出端点
type MetricsConfig struct {
	Address string `koanf:"address"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Default 返回所有配置项的默认值
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:      ":12345",
			WriteTimeout: 2 * time.Second,
			LineLimit:    4096,
			SendQueue:    64,
		},
		Credentials: CredentialsConfig{
			Backend: BackendFile,
			File:    "users.txt",
			Watch:   true,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Key:     "chat_users",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 依次加载配置文件、环境变量和 overrides（点分隔的键，如 "server.address"），
// 结果覆盖在默认值之上并做校验。path 为空时跳过配置文件。
func Load(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("加载配置文件 %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("加载环境变量: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(mapProvider(nest(overrides)), nil); err != nil {
			return Config{}, fmt.Errorf("加载命令行参数: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address 不能为空"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.writetimeout 必须大于 0，当前为 %s", c.Server.WriteTimeout))
	}
	if c.Server.LineLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.linelimit 必须大于 0，当前为 %d", c.Server.LineLimit))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("server.sendqueue 必须大于 0，当前为 %d", c.Server.SendQueue))
	}
	switch c.Credentials.Backend {
	case BackendFile:
		if c.Credentials.File == "" {
			errs = append(errs, errors.New("credentials.file 不能为空"))
		}
	case BackendMySQL:
		if c.Credentials.MySQL.DSN == "" {
			errs = append(errs, errors.New("credentials.mysql.dsn 不能为空"))
		}
	case BackendRedis:
		if c.Credentials.Redis.Address == "" || c.Credentials.Redis.Key == "" {
			errs = append(errs, errors.New("credentials.redis.address 和 credentials.redis.key 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的凭据后端 %q（可选 file、mysql、redis）", c.Credentials.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("配置无效: %w", errors.Join(errs...))
	}
	return nil
}

// sections 配置的顶层分组，只有属于这些分组的环境变量会被读取
var sections = map[string]bool{
	"server":      true,
	"credentials": true,
	"metrics":     true,
	"log":         true,
}

// envKey 把 CHAT_SERVER_ADDRESS 转换成 server.address。
// 不属于任何分组的变量（例如客户端使用的 CHAT_CLIENT_SERVER）返回空串，koanf 会跳过它们。
func envKey(name string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_", ".")
	section, rest, ok := strings.Cut(key, ".")
	if !ok || rest == "" || !sections[section] {
		return ""
	}
	return key
}

// nest 把 "a.b.c" 形式的键展开成嵌套 map
func nest(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
	}
	return out
}

// mapProvider 从内存 map 读取配置的 koanf provider
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("mapProvider 不支持 ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
