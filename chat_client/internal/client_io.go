package internal

import (
	"fmt"

	"GroupChat/tools"
)

// closeCommand 通知服务器主动断开
const closeCommand = "CLOSE"

// safeReceiveFromServer 在独立协程中按行接收服务器消息。
// 出错时通过errorChan传递错误后退出。
func (c *Client) safeReceiveFromServer() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("接收协程发生panic: %v\n", r)
		}
	}()

	for {
		msg, err := c.reader.ReceiveMessage()
		if err != nil {
			if !c.isConnected.Load() {
				return
			}
			select {
			case c.errorChan <- fmt.Errorf("与服务器断开连接: %w", err):
			default:
			}
			return
		}

		select {
		case c.receiveChan <- msg:
		case <-c.done:
			return
		}
	}
}

// safeSendToServer 在独立协程中把sendChan里的消息写到连接上。
// 出现发送错误时将错误放入errorChan。
func (c *Client) safeSendToServer() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("发送协程发生panic: %v\n", r)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendChan:
			if err := tools.SendMessage(c.conn, msg, 0); err != nil {
				select {
				case c.errorChan <- err:
				default:
				}
				return
			}
		}
	}
}

// safeHandleMessages 打印收到的消息，收到错误后清理连接
func (c *Client) safeHandleMessages() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("消息处理协程发生panic: %v\n", r)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.receiveChan:
			c.printMessage("", msg)
		case err := <-c.errorChan:
			c.handleConnectionError(err)
			return
		}
	}
}

// readInputLines 在独立协程中读取用户输入。
// 输入出错（如标准输入关闭）时关闭返回的通道；连接断开后不再转发。
func (c *Client) readInputLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			input, err := c.readInput("")
			if err != nil {
				return
			}
			select {
			case lines <- input:
			case <-c.done:
				return
			}
		}
	}()
	return lines
}

// userInputLoop 主线程中运行的用户交互循环。
// 输入 /exit 时发送 CLOSE 并退出，其它非空输入原样发给服务器。
// 服务器断开后立即返回，不再等待下一行输入。
func (c *Client) userInputLoop() {
	lines := c.readInputLines()
	for {
		var input string
		select {
		case <-c.done:
			return
		case line, ok := <-lines:
			if !ok {
				// 标准输入已关闭，按 /exit 处理
				line = "/exit"
			}
			input = line
		}

		if input == "/exit" {
			// 直接写，保证 CLOSE 在连接关闭前发出
			tools.SendMessage(c.conn, closeCommand, 0)
			c.cleanup()
			return
		}
		if input == "" {
			continue
		}

		select {
		case c.sendChan <- input:
		case <-c.done:
			return
		default:
			c.printMessage("", "发送队列已满，请稍后再试")
		}
	}
}
