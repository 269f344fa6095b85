// Package userfile 实现基于文本文件的用户凭据存储。
//
// 文件每行一条记录，格式为 "用户名:密码"，以第一个冒号分隔，两边的空白会被去掉；
// 没有冒号的行被忽略。密码可以是明文，也可以是 bcrypt 哈希。
package userfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Store 凭据文件在内存中的副本，可选地在文件变化时自动重新加载
type Store struct {
	path   string
	logger hclog.Logger

	mu    sync.RWMutex
	users map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open 读取并解析凭据文件
func Open(path string, logger hclog.Logger) (*Store, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Store{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse 解析凭据记录。同一用户名出现多次时以第一条为准。
func Parse(r io.Reader) (map[string]string, error) {
	users := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		name, password, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		password = strings.TrimSpace(password)
		// 同名用户只保留第一条，后面的记录不参与认证
		if _, exists := users[name]; !exists {
			users[name] = password
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取凭据文件失败: %w", err)
	}
	return users, nil
}

// Reload 重新读取凭据文件；失败时保留旧的数据
func (s *Store) Reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("打开凭据文件 %s 失败: %w", s.path, err)
	}
	defer f.Close()

	users, err := Parse(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()

	s.logger.Debug("凭据文件已加载", "path", s.path, "users", len(users))
	return nil
}

// Lookup 按用户名查询密码
func (s *Store) Lookup(_ context.Context, username string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	password, ok := s.users[username]
	return password, ok, nil
}

// Len 当前加载的用户数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Register 追加一条新用户记录
func (s *Store) Register(_ context.Context, username, password string) error {
	if username == "" || strings.Contains(username, ":") || strings.ContainsAny(username+password, "\r\n") {
		return fmt.Errorf("用户名 %q 不能为空，且不能包含冒号或换行", username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return fmt.Errorf("用户 %q 已存在", username)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("打开凭据文件失败: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s:%s\n", username, password); err != nil {
		f.Close()
		return fmt.Errorf("写入凭据文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("关闭凭据文件失败: %w", err)
	}
	s.users[username] = password
	return nil
}

// Watch 监听凭据文件所在目录，文件被写入或重新创建时自动重新加载。
// 监听目录而不是文件本身，这样编辑器的 rename 式保存也能被捕获。
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("监听目录 %s 失败: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w

	s.wg.Add(1)
	go s.watchLoop()
	s.logger.Info("开始监听凭据文件", "path", s.path)
	return nil
}

func (s *Store) watchLoop() {
	defer s.wg.Done()
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("重新加载凭据文件失败，继续使用旧数据", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("凭据文件已重新加载", "path", s.path, "users", s.Len())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("凭据文件监听出错", "error", err)
		}
	}
}

// Close 停止文件监听
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("关闭文件监听器失败: %w", err)
	}
	return nil
}
