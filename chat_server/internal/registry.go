package internal

// ClientRegistry 已认证连接的登记表，维护用户名和连接之间的一一对应关系
type ClientRegistry struct {
	byName map[string]*Connection // 用户名到连接的映射
	byConn map[*Connection]string // 连接到用户名的映射
	groups *GroupRegistry
}

// NewClientRegistry 创建用户表。Remove 时会把连接从 groups 的所有群组中移除。
func NewClientRegistry(groups *GroupRegistry) *ClientRegistry {
	return &ClientRegistry{
		byName: make(map[string]*Connection),
		byConn: make(map[*Connection]string),
		groups: groups,
	}
}

// IsActive 判断用户名当前是否已登录
func (r *ClientRegistry) IsActive(username string) bool {
	_, ok := r.byName[username]
	return ok
}

// Resolve 查找用户名对应的连接
func (r *ClientRegistry) Resolve(username string) (*Connection, bool) {
	c, ok := r.byName[username]
	return c, ok
}

// UsernameOf 查找连接对应的用户名
func (r *ClientRegistry) UsernameOf(c *Connection) (string, bool) {
	name, ok := r.byConn[c]
	return name, ok
}

// Insert 登记一个已认证的连接。调用方需保证用户名未被占用。
func (r *ClientRegistry) Insert(c *Connection, username string) {
	r.byName[username] = c
	r.byConn[c] = username
}

// Remove 注销连接并释放它的用户名，同时退出所有群组。
// 对不存在的连接调用是安全的，返回值表示连接之前是否在表中。
func (r *ClientRegistry) Remove(c *Connection) (string, bool) {
	name, ok := r.byConn[c]
	if !ok {
		return "", false
	}
	delete(r.byConn, c)
	if r.byName[name] == c {
		delete(r.byName, name)
	}
	if r.groups != nil {
		r.groups.RemoveMember(c)
	}
	return name, true
}

// Len 在线用户数
func (r *ClientRegistry) Len() int {
	return len(r.byConn)
}

// Connections 返回所有在线连接的快照，遍历顺序不固定
func (r *ClientRegistry) Connections() []*Connection {
	conns := make([]*Connection, 0, len(r.byConn))
	for c := range r.byConn {
		conns = append(conns, c)
	}
	return conns
}
