package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"GroupChat/chat_server/config"
	"GroupChat/chat_server/internal"
)

// main 主程序入口，解析命令行并运行服务器或管理子命令
func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chat-server",
		Usage: "多用户 TCP 聊天服务器",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML 配置文件路径"},
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "监听地址，例如 :12345"},
			&cli.StringFlag{Name: "backend", Usage: "凭据后端：file、mysql、redis"},
			&cli.StringFlag{Name: "users", Usage: "用户文件路径（file 后端）"},
			&cli.StringFlag{Name: "metrics", Usage: "Prometheus 导出地址，为空时不启动"},
			&cli.StringFlag{Name: "log-level", Usage: "日志级别：trace、debug、info、warn、error"},
		},
		Action: serve,
		Commands: []*cli.Command{
			userCommand(),
		},
	}
}

// loadConfig 读取配置文件和环境变量，命令行中显式给出的参数优先级最高
func loadConfig(c *cli.Context) (config.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range map[string]string{
		"address":   "server.address",
		"backend":   "credentials.backend",
		"users":     "credentials.file",
		"metrics":   "metrics.address",
		"log-level": "log.level",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	return config.Load(c.String("config"), overrides)
}

func newLogger(cfg config.LogConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "chat-server",
		Level:      hclog.LevelFromString(cfg.Level),
		JSONFormat: cfg.JSON,
		Output:     os.Stderr,
	})
}

// serve 启动服务器，收到 SIGINT 或 SIGTERM 后关闭
func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Credentials, logger)
	if err != nil {
		logger.Error("打开凭据存储失败", "backend", cfg.Credentials.Backend, "error", err)
		return cli.Exit(err, 1)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := internal.NewServer(store, internal.Options{
		WriteTimeout: cfg.Server.WriteTimeout,
		LineLimit:    cfg.Server.LineLimit,
		SendQueue:    cfg.Server.SendQueue,
		Logger:       logger.Named("server"),
		Registerer:   registry,
	})
	if err := server.Listen(cfg.Server.Address); err != nil {
		logger.Error("启动失败", "error", err)
		return cli.Exit(err, 1)
	}

	metricsServer := startMetrics(cfg.Metrics.Address, registry, logger)

	go func() {
		<-ctx.Done()
		logger.Info("收到退出信号")
		server.Shutdown()
	}()

	if err := server.Serve(); err != nil {
		return cli.Exit(err, 1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("关闭指标端点失败", "error", err)
		}
	}
	return nil
}

// startMetrics 在独立的 HTTP 服务上导出指标，addr 为空时返回 nil
func startMetrics(addr string, registry *prometheus.Registry, logger hclog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("指标端点已启动", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标端点异常退出", "error", err)
		}
	}()
	return srv
}
