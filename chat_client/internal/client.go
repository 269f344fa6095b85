package internal

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"GroupChat/tools"
)

// Client 表示一个聊天客户端，用于与服务器通信。
type Client struct {
	conn        net.Conn          // 客户端到服务器的网络连接
	reader      *tools.LineReader // 认证阶段和接收协程共用，避免丢掉已缓冲的行
	name        string            // 登录成功后的用户名
	sendChan    chan string       // 发送消息通道（缓冲大小为10）
	receiveChan chan string       // 接收消息通道（缓冲大小为10）
	errorChan   chan error        // 错误信息通道（缓冲大小为1）
	done        chan struct{}     // 通知所有goroutine退出的信号通道
	isConnected atomic.Bool

	// 输入输出，默认是终端
	readInput    func(prompt string) (string, error)
	printMessage func(prefix, msg string)
}

// NewClient 创建一个新的客户端实例，并初始化相关字段。
func NewClient() *Client {
	return &Client{
		sendChan:     make(chan string, 10),
		receiveChan:  make(chan string, 10),
		errorChan:    make(chan error, 1),
		done:         make(chan struct{}),
		readInput:    tools.ReadInput,
		printMessage: tools.PrintMessage,
	}
}

// Connect 建立到 addr（host:port）的TCP连接
func (c *Client) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	c.conn = conn
	c.reader = tools.NewLineReader(conn, 0)
	c.isConnected.Store(true)
	return nil
}

// Name 登录成功后的用户名
func (c *Client) Name() string {
	return c.name
}

// Start 启动客户端的主要逻辑流程。
// 包括用户认证、启动多个后台协程处理收发消息等操作。
func (c *Client) Start() error {
	defer c.safeRecover("客户端主循环")

	if err := c.handleAuthentication(); err != nil {
		return err
	}

	go c.safeReceiveFromServer()
	go c.safeSendToServer()
	go c.safeHandleMessages()

	c.userInputLoop()
	return nil
}

// handleConnectionError 打印错误并释放资源
func (c *Client) handleConnectionError(err error) {
	c.printMessage("\r连接异常: ", err.Error())
	c.cleanup()
}

// safeRecover 捕获可能发生的panic并记录上下文信息。
// 最终调用cleanup释放资源。
func (c *Client) safeRecover(context string) {
	if r := recover(); r != nil {
		fmt.Printf("%s: %v\n", context, r)
	}
	c.cleanup()
}

// cleanup 关闭网络连接和done通道，只执行一次
func (c *Client) cleanup() {
	if c.isConnected.CompareAndSwap(true, false) {
		if c.conn != nil {
			c.conn.Close()
		}
		close(c.done)
	}
}

// Done 在客户端断开后关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}
