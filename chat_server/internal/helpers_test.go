package internal

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore 内存凭据存储
type memStore map[string]string

func (m memStore) Lookup(_ context.Context, username string) (string, bool, error) {
	pw, ok := m[username]
	return pw, ok, nil
}

// failingStore 总是返回错误的凭据存储
type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("backend unavailable")
}

var testUsers = memStore{
	"alice": "secret",
	"bob":   "builder",
	"carol": "singer",
	"dave":  "diver",
}

// fakeConn 记录写入内容的 net.Conn，供不经过网络的单元测试使用。
// 单元测试不启动写协程，drain 和 closeCount 之前由 flush 在测试协程里写出发送队列。
type fakeConn struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	closed     int
	failWrites bool
	block      chan struct{} // 非 nil 时 Write 一直阻塞到它被关闭

	flush func()
}

func (f *fakeConn) Read([]byte) (int, error) { return 0, net.ErrClosed }

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return 0, errors.New("write: broken pipe")
	}
	if f.closed > 0 {
		return 0, net.ErrClosed
	}
	return f.buf.Write(p)
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345} }
func (f *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000} }
func (f *fakeConn) SetDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// drain 返回目前收到的所有非空行并清空缓冲
func (f *fakeConn) drain() []string {
	if f.flush != nil {
		f.flush()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var lines []string
	for _, l := range strings.Split(f.buf.String(), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	f.buf.Reset()
	return lines
}

func (f *fakeConn) closeCount() int {
	if f.flush != nil {
		f.flush()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestServer(store CredentialStore) *Server {
	return NewServer(store, Options{})
}

// connect 模拟一个刚被接受的连接，不启动读写协程
func connect(s *Server) (*Connection, *fakeConn) {
	fc := &fakeConn{}
	c := s.newConnection(fc)
	fc.flush = func() { flushOutbound(s, c) }
	s.sessions[c] = struct{}{}
	s.send(c, promptUsername)
	return c, fc
}

// flushOutbound 代替写协程，把发送队列中已有的消息写出；队列已关闭时关闭连接
func flushOutbound(s *Server, c *Connection) {
	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				if !c.broken {
					c.broken = true
					s.closeConn(c)
				}
				return
			}
			s.deliver(c, msg)
		default:
			return
		}
	}
}

// startWriter 改为由真实的写协程发送，之后不能再调用 flush
func startWriter(s *Server, c *Connection, fc *fakeConn) {
	fc.flush = nil
	s.workers.Add(1)
	go s.writePump(c)
}

// feed 投递一行数据。如果这一行触发了凭据查询，等待查询结果并交给事件循环处理。
func feed(s *Server, c *Connection, line string) {
	s.handleEvent(connEvent{conn: c, kind: eventLine, line: line})
	if c.state == stateAuthenticating {
		pumpEvent(s)
	}
}

// pumpEvent 从事件通道取出一个事件并处理
func pumpEvent(s *Server) {
	select {
	case ev := <-s.eventChan:
		s.handleEvent(ev)
	case <-time.After(5 * time.Second):
		panic("timed out waiting for an event")
	}
}

func hangup(s *Server, c *Connection) {
	s.handleEvent(connEvent{conn: c, kind: eventHangup, err: net.ErrClosed})
}

// login 完成认证并清空该连接已收到的内容
func login(t *testing.T, s *Server, name string) (*Connection, *fakeConn) {
	t.Helper()
	c, fc := connect(s)
	feed(s, c, name)
	feed(s, c, testUsers[name])
	if c.state != stateAuthenticated {
		t.Fatalf("login(%s): state = %s, output = %q", name, c.state, fc.drain())
	}
	fc.drain()
	return c, fc
}

// drainAll 清空多个连接的输出
func drainAll(fcs ...*fakeConn) {
	for _, fc := range fcs {
		fc.drain()
	}
}

// checkInvariants 校验会话表、用户表、群组表之间的一致性
func checkInvariants(t *testing.T, s *Server) {
	t.Helper()
	for c := range s.sessions {
		if c.state != stateAwaitingUsername && c.state != stateAwaitingPassword && c.state != stateAuthenticating {
			t.Errorf("session %s has state %s", c, c.state)
		}
		if _, ok := s.clients.UsernameOf(c); ok {
			t.Errorf("connection %s is both a session and a client", c)
		}
	}
	for _, c := range s.clients.Connections() {
		if c.state != stateAuthenticated {
			t.Errorf("client %s has state %s", c, c.state)
		}
		name, _ := s.clients.UsernameOf(c)
		if got, ok := s.clients.Resolve(name); !ok || got != c {
			t.Errorf("username %q does not resolve back to its connection", name)
		}
	}
	if len(s.clients.byName) != len(s.clients.byConn) {
		t.Errorf("username index size %d != connection index size %d", len(s.clients.byName), len(s.clients.byConn))
	}
	for name, members := range s.groups.groups {
		for m := range members {
			if _, ok := s.clients.UsernameOf(m); !ok {
				t.Errorf("group %q contains connection %s that is not a client", name, m)
			}
		}
	}
}
