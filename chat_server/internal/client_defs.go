package internal

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"GroupChat/tools"
)

// CredentialStore 外部凭据存储，每次登录尝试查询一次。
// password 为存储的密码（明文或 bcrypt 哈希），found 表示用户是否存在。
type CredentialStore interface {
	Lookup(ctx context.Context, username string) (password string, found bool, err error)
}

// connState 连接所处的阶段，是判断连接归属哪个登记表的唯一依据
type connState int

const (
	stateAwaitingUsername connState = iota
	stateAwaitingPassword
	stateAuthenticating // 正在后台查询凭据
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAwaitingUsername:
		return "awaiting_username"
	case stateAwaitingPassword:
		return "awaiting_password"
	case stateAuthenticating:
		return "authenticating"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection 一条客户端 TCP 连接。指针本身就是连接的身份标识。
// state、candidate、backlog 只由事件循环协程读写；broken 只由写协程读写。
type Connection struct {
	conn net.Conn
	id   ulid.ULID // 仅用于日志

	state     connState
	candidate string   // 认证阶段输入的用户名
	backlog   []string // 查询凭据期间收到的行，认证成功后依次处理

	outbound chan string // 待发送的消息，由 writePump 写出；teardown 时关闭
	broken   bool        // 写失败后不再尝试写入
}

func (c *Connection) String() string {
	return c.id.String()
}

// eventKind 读协程发给事件循环的事件类型
type eventKind int

const (
	eventLine       eventKind = iota // 收到一行数据
	eventHangup                      // 对端关闭或读出错
	eventAuthResult                  // 凭据查询完成
)

// connEvent 读协程投递到事件循环的事件
type connEvent struct {
	conn *Connection
	kind eventKind
	line string
	err  error
	ok   bool // eventAuthResult: 密码是否正确
}

// DefaultSendQueue 每个连接默认可以积压的消息数
const DefaultSendQueue = 64

// Options 服务器运行参数
type Options struct {
	WriteTimeout time.Duration // 每次写入的超时时间，写失败不重试
	LineLimit    int           // 单行最大字节数
	AuthTimeout  time.Duration // 单次凭据查询的超时时间
	SendQueue    int           // 每个连接的发送队列长度，队列满时断开该连接
	Logger       hclog.Logger
	Registerer   prometheus.Registerer // 为 nil 时不注册指标
}

// Server 聊天服务器。
// 会话表、用户表和群组表只由 run 协程访问，因此不需要加锁。
type Server struct {
	opts   Options
	store  CredentialStore
	logger hclog.Logger
	stats  *metrics

	sessions map[*Connection]struct{} // 尚未完成认证的连接
	clients  *ClientRegistry
	groups   *GroupRegistry

	registerChan chan net.Conn  // 新接受的连接
	eventChan    chan connEvent // 读协程产生的事件
	ctx          context.Context
	cancel       context.CancelFunc // Shutdown 时取消
	stopped      chan struct{}      // run 协程退出后关闭
	serving      atomic.Bool
	stopOnce     sync.Once
	workers      sync.WaitGroup // 读协程、写协程和凭据查询协程

	mu       sync.Mutex
	listener net.Listener
}

// NewServer 创建服务器实例，store 为凭据存储
func NewServer(store CredentialStore, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.LineLimit <= 0 {
		opts.LineLimit = tools.DefaultLineLimit
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	groups := NewGroupRegistry()
	return &Server{
		opts:         opts,
		store:        store,
		logger:       opts.Logger,
		stats:        newMetrics(opts.Registerer),
		sessions:     make(map[*Connection]struct{}),
		clients:      NewClientRegistry(groups),
		groups:       groups,
		registerChan: make(chan net.Conn, 16),
		eventChan:    make(chan connEvent, 256),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
	}
}
