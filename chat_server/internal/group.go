package internal

import "errors"

// 群组操作的错误，由消息路由转换成返回给用户的文本
var (
	ErrEmptyGroupName = errors.New("group name is empty")
	ErrGroupExists    = errors.New("group already exists")
	ErrGroupNotFound  = errors.New("group not found")
	ErrNotMember      = errors.New("not a member of the group")
)

// GroupRegistry 群组名到成员集合的映射。
// 成员为空的群组不会被删除，直到服务器重启。
type GroupRegistry struct {
	groups map[string]map[*Connection]struct{}
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{groups: make(map[string]map[*Connection]struct{})}
}

// Exists 判断群组是否存在
func (g *GroupRegistry) Exists(name string) bool {
	_, ok := g.groups[name]
	return ok
}

// Create 创建群组，creator 为唯一的初始成员
func (g *GroupRegistry) Create(name string, creator *Connection) error {
	if _, ok := g.groups[name]; ok {
		return ErrGroupExists
	}
	if name == "" {
		return ErrEmptyGroupName
	}
	g.groups[name] = map[*Connection]struct{}{creator: {}}
	return nil
}

// Join 加入群组。已经是成员时 already 为 true，不视为错误。
func (g *GroupRegistry) Join(name string, c *Connection) (already bool, err error) {
	members, ok := g.groups[name]
	if !ok {
		return false, ErrGroupNotFound
	}
	if _, ok := members[c]; ok {
		return true, nil
	}
	members[c] = struct{}{}
	return false, nil
}

// Leave 退出群组
func (g *GroupRegistry) Leave(name string, c *Connection) error {
	if name == "" {
		return ErrEmptyGroupName
	}
	members, ok := g.groups[name]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := members[c]; !ok {
		return ErrNotMember
	}
	delete(members, c)
	return nil
}

// IsMember 判断连接是否在群组中
func (g *GroupRegistry) IsMember(name string, c *Connection) bool {
	_, ok := g.groups[name][c]
	return ok
}

// Members 返回群组成员快照
func (g *GroupRegistry) Members(name string) ([]*Connection, error) {
	members, ok := g.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	out := make([]*Connection, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out, nil
}

// RemoveMember 把连接从所有群组中移除
func (g *GroupRegistry) RemoveMember(c *Connection) {
	for _, members := range g.groups {
		delete(members, c)
	}
}

// Len 群组数量（包括空群组）
func (g *GroupRegistry) Len() int {
	return len(g.groups)
}
