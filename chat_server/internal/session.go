package internal

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	promptUsername     = "Enter the username:\n"
	promptPassword     = "Enter the password:\n"
	msgWelcome         = "Welcome to the chat server!"
	msgAlreadyLoggedIn = "User already logged in"
	msgAuthFailed      = "Authentication failed"
)

// authBacklogLimit 查询凭据期间最多暂存的行数，超出的行被丢弃
const authBacklogLimit = 32

// handleSessionLine 认证状态机：第一行为用户名，第二行为密码。
// 认证失败没有重试机会，连接会被直接关闭。
func (s *Server) handleSessionLine(c *Connection, line string) {
	switch c.state {
	case stateAwaitingUsername:
		c.candidate = line
		c.state = stateAwaitingPassword
		s.send(c, promptPassword)
	case stateAwaitingPassword:
		s.beginAuthentication(c, line)
	case stateAuthenticating:
		if len(c.backlog) >= authBacklogLimit {
			s.logger.Warn("认证期间收到的行过多，丢弃", "conn", c)
			return
		}
		c.backlog = append(c.backlog, line)
	}
}

// beginAuthentication 在后台协程中查询凭据，结果以 eventAuthResult 事件交回事件循环
func (s *Server) beginAuthentication(c *Connection, password string) {
	username := c.candidate
	if s.clients.IsActive(username) {
		s.rejectDuplicate(c, username)
		return
	}

	c.state = stateAuthenticating
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		ok, err := s.checkCredentials(username, password)
		s.post(connEvent{conn: c, kind: eventAuthResult, ok: ok, err: err})
	}()
}

// finishAuthentication 处理凭据查询结果，成功后把连接从会话表移到用户表。
// 查询期间同名用户可能已经登录，所以这里再检查一次。
func (s *Server) finishAuthentication(c *Connection, ok bool, err error) {
	username := c.candidate

	if err != nil {
		s.logger.Error("查询用户凭据失败", "conn", c, "user", username, "error", err)
	}
	if !ok {
		s.stats.authAttempts.WithLabelValues(authFailed).Inc()
		s.logger.Info("认证失败", "conn", c, "user", username)
		s.send(c, msgAuthFailed)
		s.teardown(c)
		return
	}
	if s.clients.IsActive(username) {
		s.rejectDuplicate(c, username)
		return
	}

	delete(s.sessions, c)
	c.state = stateAuthenticated
	c.candidate = ""
	s.clients.Insert(c, username)
	s.stats.authAttempts.WithLabelValues(authSuccess).Inc()
	s.updateGauges()
	s.logger.Info("客户端登录成功", "conn", c, "user", username, "clients", s.clients.Len())

	s.send(c, msgWelcome)
	s.stats.messagesRouted.WithLabelValues(kindSystem).Inc()
	s.broadcast(fmt.Sprintf("%s has joined the chat", username), c)

	backlog := c.backlog
	c.backlog = nil
	for _, line := range backlog {
		if c.state != stateAuthenticated {
			return
		}
		s.handleClientLine(c, line)
	}
}

func (s *Server) rejectDuplicate(c *Connection, username string) {
	s.stats.authAttempts.WithLabelValues(authDuplicate).Inc()
	s.logger.Info("用户已在线，拒绝重复登录", "conn", c, "user", username)
	s.send(c, msgAlreadyLoggedIn)
	s.teardown(c)
}

// checkCredentials 查询凭据存储并比对密码
func (s *Server) checkCredentials(username, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.AuthTimeout)
	defer cancel()

	stored, found, err := s.store.Lookup(ctx, username)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return PasswordMatches(stored, password), nil
}

// PasswordMatches 比对存储的密码。以 bcrypt 前缀开头的值按哈希校验，其余按明文比较。
func PasswordMatches(stored, password string) bool {
	if IsBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// IsBcryptHash 判断存储值是否为 bcrypt 哈希
func IsBcryptHash(stored string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}

// HashPassword 生成 bcrypt 哈希，供注册用户时使用
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hash), nil
}
