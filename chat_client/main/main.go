package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"GroupChat/chat_client/internal"
)

// main 入口函数。负责创建客户端对象并尝试连接服务器。
// 成功连接后启动客户端主逻辑。
func main() {
	app := &cli.App{
		Name:  "chat-client",
		Usage: "聊天服务器终端客户端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "服务器地址",
				EnvVars: []string{"CHAT_CLIENT_SERVER"},
				Value:   "localhost:12345",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	client := internal.NewClient()

	addr := c.String("server")
	if err := client.Connect(addr); err != nil {
		return cli.Exit(fmt.Sprintf("%v\n请确保服务器已启动并监听 %s", err, addr), 1)
	}

	if err := client.Start(); err != nil {
		if errors.Is(err, internal.ErrRejected) {
			return cli.Exit(err, 2)
		}
		return cli.Exit(err, 1)
	}
	fmt.Println("再见！")
	return nil
}
