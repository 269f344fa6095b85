package internal

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const helpMessage = `
Available commands:
/msg <username> <message> : Send a message to a user
/broadcast <message> : Send a message to all users
/create_group <groupname> : Create a group
/join_group <groupname> : Join a group
/leave_group <groupname> : Leave a group
/group_msg <groupname> <message> : Send a message to a group
CLOSE : Close the connection
`

// handleClientLine 解析已认证用户发送的一行命令并执行。
// 未知命令或空行只把帮助信息发回给发送者。
func (s *Server) handleClientLine(c *Connection, line string) {
	command, args := nextToken(line)

	switch command {
	case "/msg":
		s.handleDirectMessage(c, args)
	case "/broadcast":
		s.handleBroadcast(c, args)
	case "/group_msg":
		s.handleGroupMessage(c, args)
	case "/create_group":
		s.handleCreateGroup(c, args)
	case "/join_group":
		s.handleJoinGroup(c, args)
	case "/leave_group":
		s.handleLeaveGroup(c, args)
	case "CLOSE":
		name, _ := s.clients.UsernameOf(c)
		s.logger.Info("客户端请求关闭连接", "conn", c, "user", name)
		s.teardown(c)
	default:
		s.stats.messagesRouted.WithLabelValues(kindHelp).Inc()
		s.send(c, helpMessage)
	}
}

// handleDirectMessage 处理私聊 /msg <用户名> <内容>。
// 检查顺序：用户不存在、发给自己、用户名为空。
func (s *Server) handleDirectMessage(c *Connection, args string) {
	receiver, text := nextToken(args)
	sender, _ := s.clients.UsernameOf(c)

	target, ok := s.clients.Resolve(receiver)
	switch {
	case !ok:
		s.sendError(c, "User not found")
	case target == c:
		s.sendError(c, "Cannot send message to self")
	case receiver == "":
		s.sendError(c, "Please specify a username")
	default:
		s.stats.messagesRouted.WithLabelValues(kindDirect).Inc()
		s.send(target, fmt.Sprintf("[ %s ] : %s", sender, text))
	}
}

// handleBroadcast 把消息发给除自己以外的所有在线用户
func (s *Server) handleBroadcast(c *Connection, text string) {
	sender, _ := s.clients.UsernameOf(c)
	s.stats.messagesRouted.WithLabelValues(kindBroadcast).Inc()
	delivered := s.broadcast(fmt.Sprintf("%s: %s", sender, text), c)
	s.logger.Debug("广播消息", "user", sender, "delivered", delivered)
}

// handleGroupMessage 把消息发给群组中除自己以外的成员
func (s *Server) handleGroupMessage(c *Connection, args string) {
	group, text := nextToken(args)

	members, err := s.groups.Members(group)
	switch {
	case err != nil:
		s.sendError(c, "Group not found")
	case group == "":
		s.sendError(c, "Please specify a group name")
	default:
		s.stats.messagesRouted.WithLabelValues(kindGroup).Inc()
		message := fmt.Sprintf("[ Group %s ] : %s", group, text)
		for _, member := range members {
			if member == c {
				continue
			}
			s.send(member, message)
		}
	}
}

// handleCreateGroup 创建群组，创建者自动成为成员
func (s *Server) handleCreateGroup(c *Connection, args string) {
	group, _ := nextToken(args)

	err := s.groups.Create(group, c)
	switch {
	case errors.Is(err, ErrGroupExists):
		s.sendError(c, "Group already exists")
	case errors.Is(err, ErrEmptyGroupName):
		s.sendError(c, "Please specify a group name")
	case err != nil:
		s.sendError(c, err.Error())
	default:
		s.updateGauges()
		s.send(c, fmt.Sprintf("Group %s created", group))
	}
}

// handleJoinGroup 加入群组，已经是成员时只做提示
func (s *Server) handleJoinGroup(c *Connection, args string) {
	group, _ := nextToken(args)

	if !s.groups.Exists(group) {
		s.sendError(c, "Group not found")
		return
	}
	if group == "" {
		s.sendError(c, "Please specify a group name")
		return
	}

	already, err := s.groups.Join(group, c)
	switch {
	case err != nil:
		s.sendError(c, "Group not found")
	case already:
		s.send(c, "Already a member")
	default:
		s.send(c, fmt.Sprintf("You joined the group %s.", group))
	}
}

// handleLeaveGroup 退出群组，先检查群组名是否为空
func (s *Server) handleLeaveGroup(c *Connection, args string) {
	group, _ := nextToken(args)

	err := s.groups.Leave(group, c)
	switch {
	case errors.Is(err, ErrEmptyGroupName):
		s.sendError(c, "Please specify a group to leave.")
	case errors.Is(err, ErrGroupNotFound):
		s.sendError(c, "Group not found")
	case errors.Is(err, ErrNotMember):
		s.sendError(c, "Not a member of the group")
	case err != nil:
		s.sendError(c, err.Error())
	default:
		s.send(c, fmt.Sprintf("You left the group %s.", group))
	}
}

func (s *Server) sendError(c *Connection, text string) {
	s.send(c, "Error: "+text)
}

// nextToken 取出第一个以空白分隔的词，rest 为去掉首尾空白的剩余部分
func nextToken(s string) (token, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
