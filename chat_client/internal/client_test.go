package internal

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"GroupChat/tools"
)

// fakeServer 只接受一个连接的脚本化服务器
type fakeServer struct {
	t        *testing.T
	listener net.Listener
	conn     chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	fs := &fakeServer{t: t, listener: l, conn: make(chan net.Conn, 1)}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		fs.conn <- conn
	}()
	t.Cleanup(func() { l.Close() })
	return fs
}

func (fs *fakeServer) accept() (net.Conn, *tools.LineReader) {
	fs.t.Helper()
	select {
	case conn := <-fs.conn:
		fs.t.Cleanup(func() { conn.Close() })
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		return conn, tools.NewLineReader(conn, 0)
	case <-time.After(5 * time.Second):
		fs.t.Fatal("client never connected")
		return nil, nil
	}
}

// scriptedClient 用预设输入代替终端，并收集打印的内容
func scriptedClient(t *testing.T, addr string, inputs ...string) (*Client, chan string, chan string) {
	t.Helper()
	in := make(chan string, 16)
	for _, line := range inputs {
		in <- line
	}
	out := make(chan string, 64)

	c := NewClient()
	c.readInput = func(string) (string, error) {
		line, ok := <-in
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
	c.printMessage = func(prefix, msg string) { out <- prefix + msg }

	if err := c.Connect(addr); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(c.cleanup)
	return c, in, out
}

func expectLine(t *testing.T, r *tools.LineReader, want string) {
	t.Helper()
	got, err := r.ReceiveMessage()
	if err != nil {
		t.Fatalf("waiting for %q: %v", want, err)
	}
	if got != want {
		t.Fatalf("server got %q, want %q", got, want)
	}
}

func serverLogin(t *testing.T, conn net.Conn, r *tools.LineReader, result string) {
	t.Helper()
	tools.SendMessage(conn, "Enter the username:", 0)
	expectLine(t, r, "alice")
	tools.SendMessage(conn, "Enter the password:", 0)
	expectLine(t, r, "secret")
	tools.SendMessage(conn, result, 0)
}

func TestAuthenticationSuccess(t *testing.T) {
	fs := newFakeServer(t)
	c, _, out := scriptedClient(t, fs.listener.Addr().String(), "alice", "secret")

	errc := make(chan error, 1)
	go func() { errc <- c.handleAuthentication() }()

	conn, r := fs.accept()
	serverLogin(t, conn, r, "Welcome to the chat server!")

	if err := <-errc; err != nil {
		t.Fatalf("handleAuthentication() error = %v", err)
	}
	if c.Name() != "alice" {
		t.Errorf("Name() = %q, want alice", c.Name())
	}
	if got := <-out; got != "Welcome to the chat server!" {
		t.Errorf("printed %q", got)
	}
}

func TestAuthenticationRejected(t *testing.T) {
	for _, result := range []string{"Authentication failed", "User already logged in"} {
		t.Run(result, func(t *testing.T) {
			fs := newFakeServer(t)
			c, _, _ := scriptedClient(t, fs.listener.Addr().String(), "alice", "secret")

			errc := make(chan error, 1)
			go func() { errc <- c.handleAuthentication() }()

			conn, r := fs.accept()
			serverLogin(t, conn, r, result)
			conn.Close()

			err := <-errc
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("handleAuthentication() error = %v, want ErrRejected", err)
			}
			if c.Name() != "" {
				t.Errorf("Name() = %q after rejection", c.Name())
			}
		})
	}
}

func TestAuthenticationServerHangsUp(t *testing.T) {
	fs := newFakeServer(t)
	c, _, _ := scriptedClient(t, fs.listener.Addr().String(), "alice")

	errc := make(chan error, 1)
	go func() { errc <- c.handleAuthentication() }()

	conn, _ := fs.accept()
	conn.Close()

	if err := <-errc; err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("handleAuthentication() error = %v, want a receive error", err)
	}
}

func TestChatForwardsInputAndPrintsMessages(t *testing.T) {
	fs := newFakeServer(t)
	c, in, out := scriptedClient(t, fs.listener.Addr().String(), "alice", "secret", "", "/broadcast hi")

	errc := make(chan error, 1)
	go func() { errc <- c.Start() }()

	conn, r := fs.accept()
	serverLogin(t, conn, r, "Welcome to the chat server!")
	<-out

	expectLine(t, r, "/broadcast hi")

	tools.SendMessage(conn, "bob: yo", 0)
	select {
	case got := <-out:
		if got != "bob: yo" {
			t.Errorf("printed %q, want %q", got, "bob: yo")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message from server was not printed")
	}

	in <- "/exit"
	expectLine(t, r, "CLOSE")

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after /exit")
	}
	select {
	case <-c.Done():
	default:
		t.Error("client should be cleaned up after /exit")
	}
}

func TestServerDisconnectCleansUp(t *testing.T) {
	fs := newFakeServer(t)
	c, in, _ := scriptedClient(t, fs.listener.Addr().String(), "alice", "secret")

	errc := make(chan error, 1)
	go func() { errc <- c.Start() }()
	t.Cleanup(func() { close(in) })

	conn, r := fs.accept()
	serverLogin(t, conn, r, "Welcome to the chat server!")
	conn.Close()

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the server closing the connection")
	}

	// 用户没有再输入任何内容，Start 也应返回
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start stayed blocked on user input after the server went away")
	}
}
