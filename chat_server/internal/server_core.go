package internal

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"GroupChat/tools"
)

// Listen 绑定监听地址。失败属于致命的启动错误，由调用方决定退出。
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("服务器监听 %s 失败: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("服务器已启动，等待连接", "addr", listener.Addr().String())
	return nil
}

// Addr 返回实际监听的地址，尚未监听时返回 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start 监听 addr 并运行服务器，直到 Shutdown 被调用
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Serve 启动接受连接的协程，并在当前协程运行事件循环，直到 Shutdown 被调用
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("服务器尚未监听")
	}
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("服务器已在运行")
	}

	go s.acceptConnections(listener)
	s.run()
	return nil
}

// Shutdown 关闭监听端口和所有连接，等待事件循环退出。可以重复调用。
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info("正在关闭服务器...")
		s.cancel()

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("关闭监听端口失败", "error", err)
			}
		}
		s.mu.Unlock()

		if s.serving.Load() {
			<-s.stopped
		}
		s.workers.Wait()
		s.logger.Info("服务器已关闭")
	})
}

// acceptConnections 接受新的客户端连接请求并将连接交给事件循环。
// 单次接受失败只记录日志，不影响服务器继续运行。
func (s *Server) acceptConnections(listener net.Listener) {
	logger := s.logger.Named("listener")
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("接受连接失败", "error", err)
			time.Sleep(10 * time.Millisecond) // 避免忙等待
			continue
		}
		select {
		case s.registerChan <- conn:
		case <-s.ctx.Done():
			conn.Close()
			return
		}
	}
}

// run 事件循环。所有登记表只在这里修改，因此各个处理函数之间天然串行。
func (s *Server) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			s.closeAll()
			return
		case conn := <-s.registerChan:
			s.handleRegister(conn)
		case ev := <-s.eventChan:
			s.handleEvent(ev)
		}
	}
}

// handleRegister 为新连接创建会话，启动读写协程，并发送用户名提示
func (s *Server) handleRegister(netConn net.Conn) {
	c := s.newConnection(netConn)
	s.sessions[c] = struct{}{}
	s.updateGauges()
	s.logger.Info("新连接", "conn", c, "addr", netConn.RemoteAddr().String())

	s.workers.Add(2)
	go s.writePump(c)
	go s.readPump(c)

	s.send(c, promptUsername)
}

func (s *Server) newConnection(netConn net.Conn) *Connection {
	return &Connection{
		conn:     netConn,
		id:       ulid.Make(),
		state:    stateAwaitingUsername,
		outbound: make(chan string, s.opts.SendQueue),
	}
}

// readPump 在独立协程中按行读取连接数据，把每一行按顺序投递给事件循环。
// 读到 EOF 或出错时投递一个 hangup 事件后退出。
func (s *Server) readPump(c *Connection) {
	defer s.workers.Done()

	reader := tools.NewLineReader(c.conn, s.opts.LineLimit)
	for {
		line, err := reader.ReceiveMessage()
		if err != nil {
			s.post(connEvent{conn: c, kind: eventHangup, err: err})
			return
		}
		if !s.post(connEvent{conn: c, kind: eventLine, line: line}) {
			return
		}
	}
}

// post 把事件交给事件循环，服务器关闭时返回 false
func (s *Server) post(ev connEvent) bool {
	select {
	case s.eventChan <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// handleEvent 根据连接当前所处阶段分派事件。已清理的连接上的事件直接丢弃。
func (s *Server) handleEvent(ev connEvent) {
	c := ev.conn
	if c.state == stateClosed {
		return
	}

	switch ev.kind {
	case eventHangup:
		if tools.IsClosedConnError(ev.err) {
			s.logger.Info("客户端断开连接", "conn", c)
		} else {
			s.logger.Warn("读取客户端数据失败", "conn", c, "error", ev.err)
		}
		s.teardown(c)

	case eventLine:
		line := strings.TrimSpace(ev.line)
		switch c.state {
		case stateAwaitingUsername, stateAwaitingPassword, stateAuthenticating:
			s.handleSessionLine(c, line)
		case stateAuthenticated:
			s.handleClientLine(c, line)
		}

	case eventAuthResult:
		if c.state == stateAuthenticating {
			s.finishAuthentication(c, ev.ok, ev.err)
		}
	}
}

// send 把消息放进连接的发送队列，不会阻塞事件循环。
// 队列已满说明对端长时间不读，此时关闭底层连接，读协程随后会报告断开并触发 teardown。
func (s *Server) send(c *Connection, message string) bool {
	if c.state == stateClosed {
		return false
	}
	select {
	case c.outbound <- message:
		return true
	default:
		s.stats.deliveryFailures.Inc()
		s.logger.Warn("发送队列已满，断开连接", "conn", c, "queue", cap(c.outbound))
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("关闭连接失败", "conn", c, "error", err)
		}
		return false
	}
}

// writePump 在独立协程中依次写出发送队列里的消息。
// 队列被 teardown 关闭并写完后关闭底层连接。
func (s *Server) writePump(c *Connection) {
	defer s.workers.Done()
	for message := range c.outbound {
		s.deliver(c, message)
	}
	s.closeConn(c)
}

// deliver 写出一条消息，只尝试一次。
// 写失败或超时后对端收到的可能是半行，因此关闭连接并丢弃之后的所有消息。
func (s *Server) deliver(c *Connection, message string) {
	if c.broken {
		s.stats.deliveryFailures.Inc()
		return
	}
	if err := tools.SendMessage(c.conn, message, s.opts.WriteTimeout); err != nil {
		c.broken = true
		s.stats.deliveryFailures.Inc()
		s.logger.Warn("发送消息失败，关闭连接", "conn", c, "error", err)
		s.closeConn(c)
	}
}

func (s *Server) closeConn(c *Connection) {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("关闭连接失败", "conn", c, "error", err)
	}
}

// broadcast 把消息发给除 sender 外的所有在线用户，返回成功送达的数量。
// 某个用户写失败不会中断对其他用户的发送。
func (s *Server) broadcast(message string, sender *Connection) int {
	delivered := 0
	for _, c := range s.clients.Connections() {
		if c == sender {
			continue
		}
		if s.send(c, message) {
			delivered++
		}
	}
	return delivered
}

// teardown 清理连接：移出会话表或用户表（以及所有群组），
// 已认证的用户会向其他人广播离开消息，最后关闭发送队列，
// 写协程写完队列中剩余的消息后关闭底层连接。
// 每个连接只会真正执行一次，重复调用直接返回。
func (s *Server) teardown(c *Connection) {
	if c.state == stateClosed {
		return
	}
	prev := c.state
	c.state = stateClosed

	delete(s.sessions, c)
	name, wasClient := s.clients.Remove(c)
	if wasClient {
		s.stats.messagesRouted.WithLabelValues(kindSystem).Inc()
		s.broadcast(fmt.Sprintf("%s has left the chat", name), c)
	}

	c.backlog = nil
	close(c.outbound)
	s.updateGauges()
	s.logger.Info("连接已清理", "conn", c, "user", name, "state", prev.String(),
		"sessions", len(s.sessions), "clients", s.clients.Len())
}

// closeAll 服务器关闭时断开所有连接，不广播离开消息
func (s *Server) closeAll() {
	closed := 0
	for c := range s.sessions {
		s.abort(c)
		closed++
	}
	clear(s.sessions)
	for _, c := range s.clients.Connections() {
		s.clients.Remove(c)
		s.abort(c)
		closed++
	}
	for {
		select {
		case conn := <-s.registerChan:
			conn.Close()
		default:
			s.updateGauges()
			s.logger.Info("已断开所有连接", "count", closed)
			return
		}
	}
}

// abort 立即关闭连接，不等待发送队列写完
func (s *Server) abort(c *Connection) {
	c.state = stateClosed
	close(c.outbound)
	s.closeConn(c)
}

func (s *Server) updateGauges() {
	s.stats.connections.WithLabelValues("session").Set(float64(len(s.sessions)))
	s.stats.connections.WithLabelValues("client").Set(float64(s.clients.Len()))
	s.stats.groups.Set(float64(s.groups.Len()))
}
