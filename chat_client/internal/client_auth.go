package internal

import (
	"errors"
	"fmt"
	"strings"

	"GroupChat/tools"
)

const welcomePrefix = "Welcome"

// ErrRejected 服务器拒绝了登录（密码错误或用户已在线）
var ErrRejected = errors.New("登录被拒绝")

// handleAuthentication 按服务器提示依次输入用户名和密码。
// 服务器不允许重试，失败后连接会被关闭。
func (c *Client) handleAuthentication() error {
	username, err := c.answerPrompt("用户名")
	if err != nil {
		return err
	}
	if _, err := c.answerPrompt("密码"); err != nil {
		return err
	}

	result, err := c.reader.ReceiveMessage()
	if err != nil {
		return fmt.Errorf("接收登录结果失败: %w", err)
	}
	if !strings.HasPrefix(result, welcomePrefix) {
		return fmt.Errorf("%w: %s", ErrRejected, result)
	}

	c.name = username
	c.printMessage("", result)
	return nil
}

// answerPrompt 读取一条服务器提示，显示给用户，再把用户的输入发回去
func (c *Client) answerPrompt(field string) (string, error) {
	prompt, err := c.reader.ReceiveMessage()
	if err != nil {
		return "", fmt.Errorf("接收%s提示失败: %w", field, err)
	}
	input, err := c.readInput(prompt + " ")
	if err != nil {
		return "", fmt.Errorf("读取%s失败: %w", field, err)
	}
	if err := tools.SendMessage(c.conn, input, 0); err != nil {
		return "", fmt.Errorf("发送%s失败: %w", field, err)
	}
	return input, nil
}
