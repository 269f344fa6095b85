package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"GroupChat/chat_server/config"
	"GroupChat/chat_server/internal"
)

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "管理登录凭据",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "向配置的凭据后端添加用户",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "用户名"},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, Usage: "密码"},
					&cli.BoolFlag{Name: "hash", Usage: "以 bcrypt 哈希形式保存密码"},
				},
				Action: addUser,
			},
		},
	}
}

// addUser 把用户写入当前配置选定的后端，重名时失败
func addUser(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	logger := newLogger(cfg.Log)

	name, password := c.String("name"), c.String("password")
	if c.Bool("hash") {
		if password, err = internal.HashPassword(password); err != nil {
			return cli.Exit(err, 1)
		}
	}

	// 添加用户时不需要监听文件变化
	creds := cfg.Credentials
	creds.Watch = false
	store, err := openStore(c.Context, creds, logger)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer store.Close()

	if err := store.Register(c.Context, name, password); err != nil {
		return cli.Exit(fmt.Errorf("添加用户 %s 失败: %w", name, err), 1)
	}
	fmt.Printf("用户 %s 已添加（后端 %s）\n", name, backendLabel(cfg))
	return nil
}

func backendLabel(cfg config.Config) string {
	if cfg.Credentials.Backend == config.BackendFile {
		return cfg.Credentials.File
	}
	return cfg.Credentials.Backend
}
