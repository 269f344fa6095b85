package tools

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// DefaultLineLimit 单行消息的默认最大字节数（不含换行符）
const DefaultLineLimit = 4096

// ErrLineTooLong 对端发送的单行超过了读取器允许的长度
var ErrLineTooLong = errors.New("消息行超过长度上限")

// SendMessage 发送一行文本（以换行符结尾，解决粘包）。
// 如果 timeout 大于 0，则在写入前设置写超时，只尝试写一次。
func SendMessage(conn net.Conn, message string, timeout time.Duration) error {
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("设置写超时失败: %w", err)
		}
	}
	if _, err := io.WriteString(conn, message); err != nil {
		return fmt.Errorf("发送消息失败（长度 %d）: %w", len(message), err)
	}
	return nil
}

// LineReader 按行读取连接上的数据。
// 一次读取可能包含半行或多行，LineReader 负责重新拼装，每次只返回一行。
type LineReader struct {
	scanner *bufio.Scanner
	limit   int
}

// NewLineReader 创建按行读取器，limit 为单行最大字节数，<=0 时使用默认值
func NewLineReader(r io.Reader, limit int) *LineReader {
	if limit <= 0 {
		limit = DefaultLineLimit
	}
	scanner := bufio.NewScanner(r)
	// 额外留出 "\r\n" 的空间
	scanner.Buffer(make([]byte, 0, min(limit+2, 4096)), limit+2)
	return &LineReader{scanner: scanner, limit: limit}
}

// ReceiveMessage 读取下一行，去掉行尾的 "\n" 和 "\r"。
// 对端关闭连接时返回 io.EOF。
func (lr *LineReader) ReceiveMessage() (string, error) {
	if lr.scanner.Scan() {
		line := strings.TrimSuffix(lr.scanner.Text(), "\r")
		if len(line) > lr.limit {
			return "", ErrLineTooLong
		}
		return line, nil
	}
	err := lr.scanner.Err()
	if err == nil {
		return "", io.EOF
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return "", ErrLineTooLong
	}
	return "", err
}

// IsClosedConnError 判断错误是否只是连接被正常关闭
func IsClosedConnError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// PrintMessage 打印消息
func PrintMessage(prefix, msg string) {
	fmt.Printf("%s%s\n", prefix, strings.TrimRight(msg, "\n"))
}

var stdin = bufio.NewReader(os.Stdin)

// ReadInput 读取用户输入（支持空格）
func ReadInput(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
